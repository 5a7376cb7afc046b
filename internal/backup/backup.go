// Package backup saves a server's configuration to a zstd compressed JSON
// archive and posts it back to the same or another server.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// FormatVersion is written into every archive.
const FormatVersion = 1

// Archive is the decoded content of a backup file.
type Archive struct {
	Format  int                   `json:"format"`
	Created time.Time             `json:"created"`
	Source  string                `json:"source,omitempty"`
	Config  models.ConfigDocument `json:"config"`
}

// Export reads the whole configuration and writes it as an archive to w.
func Export(ctx context.Context, c *admin.Client, w io.Writer) (*Archive, error) {
	doc, err := c.GetConfigAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	a := &Archive{
		Format:  FormatVersion,
		Created: time.Now().UTC(),
		Source:  c.BaseURL(),
		Config:  *doc,
	}
	if err := Write(w, a); err != nil {
		return nil, err
	}
	logger.Info("exported %d object types from [%v]", len(doc.Objects), a.Source)
	return a, nil
}

// Write encodes a to w.
func Write(w io.Writer, a *Archive) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(a); err != nil {
		enc.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	return enc.Close()
}

// Read decodes an archive.
func Read(r io.Reader) (*Archive, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var a Archive
	if err := json.NewDecoder(dec).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if a.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported archive format %d", a.Format)
	}
	return &a, nil
}

// Objects referenced by others are posted first.
var restoreOrder = []models.ObjectType{
	models.CertificateProfile,
	models.CRLProfile,
	models.LTPAProfile,
	models.OAuthProfile,
	models.SecurityProfile,
	models.TrustedCertificate,
	models.ClientCertificate,
	models.LDAP,
	models.ConfigurationPolicy,
	models.MessageHub,
	models.ConnectionPolicy,
	models.MessagingPolicy,
	models.TopicPolicy,
	models.SubscriptionPolicy,
	models.QueuePolicy,
	models.Endpoint,
	models.Queue,
	models.QueueManagerConnection,
	models.DestinationMappingRule,
	models.Plugin,
	models.ClusterMembership,
	models.HighAvailability,
	models.AdminEndpoint,
}

// Result lists what Restore did per object type.
type Result struct {
	Restored []models.ObjectType
	Skipped  []models.ObjectType
	Failed   []models.ObjectType
}

// Plan returns the object types Restore would post, in order, and those it
// skips. With no types given every named object type is restored; singletons
// and server settings only when listed.
func Plan(a *Archive, types []models.ObjectType) (restore, skip []models.ObjectType) {
	want := make(map[models.ObjectType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	selected := func(t models.ObjectType) bool {
		if len(types) > 0 {
			return want[t]
		}
		return t.Known() && !t.Singleton()
	}

	present := make(map[models.ObjectType]bool, len(a.Config.Objects))
	for t := range a.Config.Objects {
		present[t] = true
	}
	for _, t := range restoreOrder {
		if !present[t] {
			continue
		}
		delete(present, t)
		if selected(t) {
			restore = append(restore, t)
		} else {
			skip = append(skip, t)
		}
	}
	rest := make([]models.ObjectType, 0, len(present))
	for t := range present {
		rest = append(rest, t)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, t := range rest {
		if selected(t) {
			restore = append(restore, t)
		} else {
			skip = append(skip, t)
		}
	}
	return restore, skip
}

// Restore posts the archived objects back one type at a time. A failing type
// does not stop the others; all failures are returned together.
func Restore(ctx context.Context, c *admin.Client, a *Archive, types []models.ObjectType) (*Result, error) {
	restore, skip := Plan(a, types)
	res := &Result{Skipped: skip}

	var errs *multierror.Error
	for _, t := range restore {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		payload, err := json.Marshal(map[string]json.RawMessage{string(t): a.Config.Objects[t]})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", t, err))
			res.Failed = append(res.Failed, t)
			continue
		}
		resp, err := c.SetConfig(ctx, payload)
		if err == nil && !resp.Success() {
			err = fmt.Errorf("%s %s", resp.Code, resp.Message)
		}
		if err != nil {
			logger.Error("restore [%v] on [%v]: %v", t, c.BaseURL(), err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", t, err))
			res.Failed = append(res.Failed, t)
			continue
		}
		logger.Info("restored [%v] on [%v]", t, c.BaseURL())
		res.Restored = append(res.Restored, t)
	}
	return res, errs.ErrorOrNil()
}
