package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/mpm/mpm"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the complete simulation state for replay.
type Snapshot struct {
	Version int   `json:"version"`
	RNGSeed int64 `json:"rng_seed"`
	Tick    int64 `json:"tick"`

	Params    mpm.Params      `json:"params"`
	Particles []ParticleState `json:"particles"`

	Event *Event `json:"event,omitempty"`
}

// ParticleState holds one particle's complete state.
type ParticleState struct {
	Pos [3]float32 `json:"pos"`
	Vel [3]float32 `json:"vel"`
	C   [9]float32 `json:"c"` // column-major, as mgl32.Mat3
}

// NewSnapshot captures the current simulation state.
func NewSnapshot(sim *mpm.Simulation, seed int64) *Snapshot {
	particles := sim.Particles()
	snap := &Snapshot{
		Version:   SnapshotVersion,
		RNGSeed:   seed,
		Tick:      sim.Tick(),
		Params:    sim.Params(),
		Particles: make([]ParticleState, len(particles)),
	}
	for i := range particles {
		p := &particles[i]
		snap.Particles[i] = ParticleState{Pos: p.Pos, Vel: p.Vel, C: p.C}
	}
	return snap
}

// ToParticles converts the stored state back into simulation particles.
func (s *Snapshot) ToParticles() []mpm.Particle {
	out := make([]mpm.Particle, len(s.Particles))
	for i, p := range s.Particles {
		out[i] = mpm.Particle{Pos: mgl32.Vec3(p.Pos), Vel: mgl32.Vec3(p.Vel), C: mgl32.Mat3(p.C)}
	}
	return out
}

// Restore loads the snapshot's particles and tick into sim. The grid
// resolution must match.
func (s *Snapshot) Restore(sim *mpm.Simulation) error {
	if s.Params.GridResolution != sim.Params().GridResolution {
		return fmt.Errorf("snapshot grid resolution %d does not match simulation %d",
			s.Params.GridResolution, sim.Params().GridResolution)
	}
	if err := sim.Load(s.ToParticles()); err != nil {
		return fmt.Errorf("restoring particles: %w", err)
	}
	sim.SetTick(s.Tick)
	return nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Tick)
	if snapshot.Event != nil {
		sanitized := strings.ReplaceAll(string(snapshot.Event.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Tick, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}
