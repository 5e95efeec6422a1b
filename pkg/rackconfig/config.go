// Loads and validates the rack YAML config file
package rackconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/rack/pkg/scheduler"
	"github.com/function61/rack/pkg/zfs"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFilename = ".gack.yaml"
	DefaultPrefix   = "caz"
	DefaultKeep     = 10
)

type Config struct {
	Prefix          string         `yaml:"prefix"`
	Journal         string         `yaml:"journal"`
	MetricsTextfile string         `yaml:"metrics_textfile"`
	Snap            SnapConfig     `yaml:"snap"`
	Clone           CloneConfig    `yaml:"clone"`
	Schedule        []ScheduledJob `yaml:"schedule"`
}

type SnapConfig struct {
	Conventions []SnapConvention `yaml:"conventions"`
	Volumes     []SnapVolume     `yaml:"volumes"`
}

// a convention's name doubles as the snapshot prefix
type SnapConvention struct {
	Name string `yaml:"name"`
	Last *int   `yaml:"last"` // how many most recent snapshots prune never touches
}

type SnapVolume struct {
	Name       string `yaml:"name"`
	Convention string `yaml:"convention"`
	Zfs        string `yaml:"zfs"`
}

type CloneConfig struct {
	Volumes []CloneVolume `yaml:"volumes"`
}

type CloneVolume struct {
	Name     string   `yaml:"name"`
	Source   string   `yaml:"source"`
	Dest     string   `yaml:"dest"`
	Skip     bool     `yaml:"skip"`
	Excludes []string `yaml:"excludes"`
}

type Action string

const (
	ActionSnap  Action = "snap"
	ActionPrune Action = "prune"
	ActionClone Action = "clone"
)

type ScheduledJob struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"`
	Action   Action `yaml:"action"`
	Volume   string `yaml:"volume"` // prune: snap volume name, clone: clone volume name (optional)
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, DefaultFilename), nil
}

func Load(path string) (*Config, error) {
	exists, err := fileexists.Exists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("config file %s not found", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(content)
}

func Parse(content []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.Unmarshal(content, conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if conf.Prefix == "" {
		conf.Prefix = DefaultPrefix
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return conf, nil
}

func (c *Config) Validate() error {
	errs := []error{}

	for _, convention := range c.Snap.Conventions {
		if convention.Name == "" {
			errs = append(errs, errors.New("snap convention without name"))
		}
		if convention.Last != nil && *convention.Last < 0 {
			errs = append(errs, fmt.Errorf("snap convention %s: negative 'last'", convention.Name))
		}
	}

	for _, volume := range c.Snap.Volumes {
		if volume.Zfs == "" {
			errs = append(errs, fmt.Errorf("snap volume %s: 'zfs' missing", volume.Name))
		}
		if c.Convention(volume.Convention) == nil {
			errs = append(errs, fmt.Errorf("snap volume %s: unknown convention '%s'", volume.Name, volume.Convention))
		}
	}

	for _, volume := range c.Clone.Volumes {
		switch {
		case volume.Source == "" || volume.Dest == "":
			errs = append(errs, fmt.Errorf("clone volume %s: source and dest required", volume.Name))
		case zfs.InSubtree(volume.Dest, volume.Source) || zfs.InSubtree(volume.Source, volume.Dest):
			errs = append(errs, fmt.Errorf("clone volume %s: source and dest overlap", volume.Name))
		}
	}

	ids := map[string]bool{}
	for _, job := range c.Schedule {
		if ids[job.ID] {
			errs = append(errs, fmt.Errorf("schedule: duplicate id '%s'", job.ID))
		}
		ids[job.ID] = true

		if _, err := scheduler.ParseSchedule(job.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", job.ID, err))
		}

		switch job.Action {
		case ActionSnap:
		case ActionPrune:
			if job.Volume != "" && c.SnapVolume(job.Volume) == nil {
				errs = append(errs, fmt.Errorf("schedule %s: unknown snap volume '%s'", job.ID, job.Volume))
			}
		case ActionClone:
			if job.Volume != "" && c.CloneVolume(job.Volume) == nil {
				errs = append(errs, fmt.Errorf("schedule %s: unknown clone volume '%s'", job.ID, job.Volume))
			}
		default:
			errs = append(errs, fmt.Errorf("schedule %s: unsupported action '%s'", job.ID, job.Action))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) Convention(name string) *SnapConvention {
	convention, found := lo.Find(c.Snap.Conventions, func(sc SnapConvention) bool { return sc.Name == name })
	if !found {
		return nil
	}

	return &convention
}

func (c *Config) SnapVolume(name string) *SnapVolume {
	volume, found := lo.Find(c.Snap.Volumes, func(v SnapVolume) bool { return v.Name == name })
	if !found {
		return nil
	}

	return &volume
}

func (c *Config) CloneVolume(name string) *CloneVolume {
	volume, found := lo.Find(c.Clone.Volumes, func(v CloneVolume) bool { return v.Name == name })
	if !found {
		return nil
	}

	return &volume
}

func (c *Config) ScheduledJob(id string) *ScheduledJob {
	job, found := lo.Find(c.Schedule, func(j ScheduledJob) bool { return j.ID == id })
	if !found {
		return nil
	}

	return &job
}

// clone volumes not marked skip, in config order
func (c *Config) ActiveCloneVolumes() []CloneVolume {
	return lo.Filter(c.Clone.Volumes, func(v CloneVolume, _ int) bool { return !v.Skip })
}

// how many most recent snapshots of this convention are always kept
func (s SnapConvention) Keep() int {
	if s.Last == nil {
		return DefaultKeep
	}

	return *s.Last
}
