package bridge

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/insikl/messaging-admin-ambassador/internal/logger"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// LoadRoutes reads a relay route file. A missing file means no extra routes.
func LoadRoutes(path string) ([]models.RelayRoute, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("No route file skipping any extra subscriptions")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Route file found [%v]", path)

	var routes []models.RelayRoute
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, r := range routes {
		if r.Topic == "" {
			return nil, fmt.Errorf("%s: route %d has no topic", path, i+1)
		}
		if r.Route.Default == "" && len(r.Route.Rules) == 0 {
			return nil, fmt.Errorf("%s: route %q has no target", path, r.Topic)
		}
	}
	return routes, nil
}
