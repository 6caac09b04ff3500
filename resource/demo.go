package resource

import (
	"context"
	"errors"
)

// DemoResource is a sample resource installed by SeedDemo.
type DemoResource struct {
	ID       string
	Content  string
	Category string
	Priority int
}

// DemoResources are the samples SeedDemo installs.
var DemoResources = []DemoResource{
	{
		ID:       "config_main",
		Content:  `{"wifi_ssid":"demo_network","timeout":5000,"buffer_size":1024}`,
		Category: "config",
		Priority: 1,
	},
	{
		ID:       "lib_sensor",
		Content:  "#include <sensor.h>\nvoid readSensor() { /* sensor code */ }",
		Category: "library",
		Priority: 2,
	},
	{
		ID:       "data_sample",
		Content:  "Sample data for testing purposes. This could be a larger dataset.",
		Category: "data",
		Priority: 3,
	},
	{
		ID:       "ui_strings",
		Content:  `{"welcome":"Welcome to VRAM","error":"Error occurred","loading":"Loading..."}`,
		Category: "ui",
		Priority: 2,
	},
}

// SeedDemo stores every DemoResources entry that does not already exist and
// returns the ids it stored.
func SeedDemo(ctx context.Context, m *Manager) ([]string, error) {
	var seeded []string
	for _, d := range DemoResources {
		_, err := m.Version(ctx, d.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return seeded, err
		}

		if err := m.Store(ctx, d.ID, []byte(d.Content), StoreOptions{
			Category: d.Category,
			Priority: d.Priority,
		}); err != nil {
			return seeded, err
		}
		seeded = append(seeded, d.ID)
	}

	if len(seeded) > 0 {
		m.logger.Info("seeded demo resources", "ids", seeded)
	}
	return seeded, nil
}
