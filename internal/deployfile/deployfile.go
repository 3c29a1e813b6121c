// Package deployfile parses declarative deployment manifests. A manifest
// names deployments and their schedules; applying it upserts them so the
// file stays the source of truth across restarts.
package deployfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

const SchemaV1 = "tideline.deployments.v1"

// deploymentNamespace seeds deterministic deployment ids so re-applying a
// manifest updates rows instead of duplicating them.
var deploymentNamespace = uuid.MustParse("8a3f0f2e-6f0e-4d19-9b5a-0f6f2f1c7a42")

type File struct {
	Schema      string `yaml:"schema"`
	Deployments []Spec `yaml:"deployments"`
}

type Spec struct {
	Name       string   `yaml:"name"`
	Schedule   Schedule `yaml:"schedule"`
	Active     *bool    `yaml:"active,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
	Retries    int      `yaml:"retries,omitempty"`
	RetryDelay string   `yaml:"retry_delay,omitempty"`
}

type Schedule struct {
	Interval string `yaml:"interval,omitempty"`
	Anchor   string `yaml:"anchor,omitempty"`
	Cron     string `yaml:"cron,omitempty"`
}

func Parse(input []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(input, &f); err != nil {
		return File{}, fmt.Errorf("parse deploy file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read deploy file: %w", err)
	}
	return Parse(raw)
}

func (f File) Validate() error {
	if strings.TrimSpace(f.Schema) != SchemaV1 {
		return fmt.Errorf("unsupported schema: %q", f.Schema)
	}
	if len(f.Deployments) == 0 {
		return errors.New("deploy file contains no deployments")
	}
	seen := make(map[string]struct{}, len(f.Deployments))
	for i, spec := range f.Deployments {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("deployment %d: %w", i, err)
		}
		name := strings.TrimSpace(spec.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate deployment name: %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	hasInterval := strings.TrimSpace(s.Schedule.Interval) != ""
	hasCron := strings.TrimSpace(s.Schedule.Cron) != ""
	if hasInterval == hasCron {
		return errors.New("schedule requires exactly one of interval or cron")
	}
	if _, err := s.toDomain(); err != nil {
		return err
	}
	return nil
}

func (s Spec) toDomain() (domain.Deployment, error) {
	name := strings.TrimSpace(s.Name)
	d := domain.Deployment{
		ID:               uuid.NewSHA1(deploymentNamespace, []byte(name)).String(),
		Name:             name,
		IsScheduleActive: true,
		Tags:             s.Tags,
	}
	if s.Active != nil {
		d.IsScheduleActive = *s.Active
	}

	if interval := strings.TrimSpace(s.Schedule.Interval); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return domain.Deployment{}, fmt.Errorf("parse interval: %w", err)
		}
		d.Schedule = domain.ScheduleSpec{Kind: domain.ScheduleKindInterval, Interval: parsed}
		if anchor := strings.TrimSpace(s.Schedule.Anchor); anchor != "" {
			at, err := time.Parse(time.RFC3339, anchor)
			if err != nil {
				return domain.Deployment{}, fmt.Errorf("parse anchor: %w", err)
			}
			d.Schedule.Anchor = at.UTC()
		}
	} else {
		d.Schedule = domain.ScheduleSpec{Kind: domain.ScheduleKindCron, Cron: strings.TrimSpace(s.Schedule.Cron)}
	}

	if s.Retries < 0 {
		return domain.Deployment{}, errors.New("retries must be >= 0")
	}
	d.Retry.MaxRetries = s.Retries
	if delay := strings.TrimSpace(s.RetryDelay); delay != "" {
		parsed, err := time.ParseDuration(delay)
		if err != nil {
			return domain.Deployment{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		d.Retry.RetryDelay = parsed
	}

	if err := d.Validate(); err != nil {
		return domain.Deployment{}, err
	}
	return d, nil
}

// ToDomain converts the manifest to domain values.
func (f File) ToDomain() ([]domain.Deployment, error) {
	out := make([]domain.Deployment, 0, len(f.Deployments))
	for i, spec := range f.Deployments {
		d, err := spec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("deployment %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Apply upserts every deployment in the manifest.
func Apply(ctx context.Context, store repo.DeploymentStore, f File) error {
	if store == nil {
		return errors.New("deployment store is required")
	}
	deployments, err := f.ToDomain()
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if err := store.UpsertDeployment(ctx, d); err != nil {
			return fmt.Errorf("upsert deployment %q: %w", d.Name, err)
		}
	}
	return nil
}
