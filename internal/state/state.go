// ABOUTME: Filesystem observer for the agent's identity marker and sentinel files
// ABOUTME: Derives registration state and the last lifecycle action from what is on disk
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
)

const (
	DefaultStateDir      = "/etc/insights-client"
	MachineIDFile        = "machine-id"
	RegisteredSentinel   = ".registered"
	UnregisteredSentinel = ".unregistered"
)

// Paths locates the files the observer inspects
type Paths struct {
	MachineID    string
	Registered   string
	Unregistered string
}

// PathsUnder returns the standard layout rooted at dir
func PathsUnder(dir string) Paths {
	return Paths{
		MachineID:    filepath.Join(dir, MachineIDFile),
		Registered:   filepath.Join(dir, RegisteredSentinel),
		Unregistered: filepath.Join(dir, UnregisteredSentinel),
	}
}

// DefaultPaths returns the paths used by an installed agent
func DefaultPaths() Paths {
	return PathsUnder(DefaultStateDir)
}

// Action is a lifecycle action recorded by the sentinels
type Action string

const (
	ActionNone       Action = "none"
	ActionRegister   Action = "register"
	ActionUnregister Action = "unregister"
	// Both sentinels carry the same modification time
	ActionAmbiguous Action = "ambiguous"
)

// Sentinel describes one sentinel file
type Sentinel struct {
	Present bool      `json:"present"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// Snapshot is the observed on-disk state at one instant
type Snapshot struct {
	MachineIDPresent bool     `json:"machineIdPresent"`
	MachineID        string   `json:"-"`
	Registered       Sentinel `json:"registered"`
	Unregistered     Sentinel `json:"unregistered"`
}

// IsRegistered reports registration as derived from the identity marker
func (s Snapshot) IsRegistered() bool {
	return s.MachineIDPresent
}

// LastAction returns the action named by the newest sentinel
func (s Snapshot) LastAction() Action {
	switch {
	case s.Registered.Present && s.Unregistered.Present:
		switch {
		case s.Unregistered.ModTime.After(s.Registered.ModTime):
			return ActionUnregister
		case s.Registered.ModTime.After(s.Unregistered.ModTime):
			return ActionRegister
		default:
			return ActionAmbiguous
		}
	case s.Registered.Present:
		return ActionRegister
	case s.Unregistered.Present:
		return ActionUnregister
	default:
		return ActionNone
	}
}

// MachineIDDigest fingerprints the token so it can be logged and reported
func (s Snapshot) MachineIDDigest() digest.Digest {
	if !s.MachineIDPresent {
		return ""
	}
	return digest.FromString(s.MachineID)
}

// Observer reads registration state from the filesystem
type Observer struct {
	paths Paths
}

// NewObserver creates an observer over the given paths
func NewObserver(paths Paths) *Observer {
	return &Observer{paths: paths}
}

// Paths returns the observed paths
func (o *Observer) Paths() Paths {
	return o.paths
}

// MachineIDExists reports whether the identity marker is present
func (o *Observer) MachineIDExists() (bool, error) {
	return exists(o.paths.MachineID)
}

// ReadMachineID returns the identity token content as stored
func (o *Observer) ReadMachineID() (string, error) {
	data, err := os.ReadFile(o.paths.MachineID)
	if err != nil {
		return "", fmt.Errorf("failed to read machine-id: %w", err)
	}
	return string(data), nil
}

// Snapshot captures the marker and both sentinels
func (o *Observer) Snapshot() (Snapshot, error) {
	var snap Snapshot

	present, err := o.MachineIDExists()
	if err != nil {
		return snap, err
	}
	snap.MachineIDPresent = present
	if present {
		if snap.MachineID, err = o.ReadMachineID(); err != nil {
			return snap, err
		}
	}

	if snap.Registered, err = sentinel(o.paths.Registered); err != nil {
		return snap, err
	}
	if snap.Unregistered, err = sentinel(o.paths.Unregistered); err != nil {
		return snap, err
	}
	return snap, nil
}

func sentinel(path string) (Sentinel, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Sentinel{}, nil
	}
	if err != nil {
		return Sentinel{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return Sentinel{Present: true, ModTime: info.ModTime()}, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
