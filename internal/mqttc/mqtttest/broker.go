// Package mqtttest runs a small in-process MQTT 3.1.1 broker for tests.
// Messages are delivered to matching subscribers at QoS 0; nothing is
// retained or persisted.
package mqtttest

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Broker accepts MQTT connections on a loopback port.
type Broker struct {
	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	sessions map[*session]struct{}
	connects int
	refuse   int
	delay    time.Duration
}

type session struct {
	conn net.Conn
	id   string

	wmu  sync.Mutex
	subs map[string]struct{}
}

// Start listens on 127.0.0.1 with a random port.
func Start() (*Broker, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	b := &Broker{
		ln:       ln,
		conns:    make(map[net.Conn]struct{}),
		sessions: make(map[*session]struct{}),
	}
	b.wg.Add(1)
	go b.accept()
	return b, nil
}

// URL is the tcp:// broker address for clients.
func (b *Broker) URL() string {
	return "tcp://" + b.ln.Addr().String()
}

// RefuseConnects answers the next n CONNECTs with "server unavailable".
func (b *Broker) RefuseConnects(n int) {
	b.mu.Lock()
	b.refuse = n
	b.mu.Unlock()
}

// DelayConnack holds every CONNACK back for d.
func (b *Broker) DelayConnack(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

// Connects counts accepted connections.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Clients lists the client ids of open sessions.
func (b *Broker) Clients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sessions))
	for s := range b.sessions {
		out = append(out, s.id)
	}
	return out
}

// Close stops listening and drops every session.
func (b *Broker) Close() {
	b.ln.Close()
	b.mu.Lock()
	for c := range b.conns {
		c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broker) accept() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.serve(conn)
			b.mu.Lock()
			delete(b.conns, conn)
			b.mu.Unlock()
		}()
	}
}

func (b *Broker) serve(conn net.Conn) {
	defer conn.Close()

	p, err := packets.ReadPacket(conn)
	if err != nil {
		return
	}
	cp, ok := p.(*packets.ConnectPacket)
	if !ok {
		return
	}
	b.mu.Lock()
	refused := b.refuse > 0
	if refused {
		b.refuse--
	}
	delay := b.delay
	b.mu.Unlock()

	ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	if refused {
		ack.ReturnCode = packets.ErrRefusedServerUnavailable
		_ = ack.Write(conn)
		return
	}
	time.Sleep(delay)

	s := &session{conn: conn, id: cp.ClientIdentifier, subs: make(map[string]struct{})}
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.connects++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.sessions, s)
		b.mu.Unlock()
	}()

	ack.ReturnCode = packets.Accepted
	if err := s.write(ack); err != nil {
		return
	}

	for {
		p, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := p.(type) {
		case *packets.SubscribePacket:
			b.mu.Lock()
			for _, t := range p.Topics {
				s.subs[t] = struct{}{}
			}
			b.mu.Unlock()
			sa := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
			sa.MessageID = p.MessageID
			for _, q := range p.Qoss {
				sa.ReturnCodes = append(sa.ReturnCodes, min(q, 1))
			}
			err = s.write(sa)
		case *packets.UnsubscribePacket:
			b.mu.Lock()
			for _, t := range p.Topics {
				delete(s.subs, t)
			}
			b.mu.Unlock()
			ua := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
			ua.MessageID = p.MessageID
			err = s.write(ua)
		case *packets.PublishPacket:
			switch p.Qos {
			case 1:
				pa := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
				pa.MessageID = p.MessageID
				err = s.write(pa)
			case 2:
				pr := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
				pr.MessageID = p.MessageID
				err = s.write(pr)
			}
			b.deliver(p.TopicName, p.Payload)
		case *packets.PubrelPacket:
			pc := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
			pc.MessageID = p.MessageID
			err = s.write(pc)
		case *packets.PingreqPacket:
			err = s.write(packets.NewControlPacket(packets.Pingresp))
		case *packets.DisconnectPacket:
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Broker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	var to []*session
	for s := range b.sessions {
		for f := range s.subs {
			if Match(f, topic) {
				to = append(to, s)
				break
			}
		}
	}
	b.mu.Unlock()

	for _, s := range to {
		pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
		pub.TopicName = topic
		pub.Payload = payload
		_ = s.write(pub)
	}
}

func (s *session) write(p packets.ControlPacket) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return p.Write(s.conn)
}

// Match reports whether topic matches filter with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
