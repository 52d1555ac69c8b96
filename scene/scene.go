// Package scene keeps the fluid blocks of a run in an ECS world and turns
// them into seeding lattices for the simulation.
package scene

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/mpm/components"
	"github.com/pthm-cable/mpm/config"
	"github.com/pthm-cable/mpm/mpm"
)

// Scene holds the set of blocks that seed the particle store.
type Scene struct {
	world *ecs.World

	blockMapper *ecs.Map4[
		components.Label,
		components.Block,
		components.Placement,
		components.Launch,
	]
	blockFilter *ecs.Filter4[
		components.Label,
		components.Block,
		components.Placement,
		components.Launch,
	]

	nextOrder uint32
}

// New creates an empty scene.
func New() *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world: world,
		blockMapper: ecs.NewMap4[
			components.Label,
			components.Block,
			components.Placement,
			components.Launch,
		](world),
		blockFilter: ecs.NewFilter4[
			components.Label,
			components.Block,
			components.Placement,
			components.Launch,
		](world),
	}
}

// FromConfig builds a scene from the configured blocks.
func FromConfig(cfg *config.Config) (*Scene, error) {
	s := New()
	for i, b := range cfg.Blocks {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("block-%d", i)
		}
		if _, err := s.AddBlock(name, b.Lattice()); err != nil {
			return nil, fmt.Errorf("adding block %q: %w", name, err)
		}
	}
	return s, nil
}

// AddBlock adds a block. Blocks seed in the order they were added.
func (s *Scene) AddBlock(name string, l mpm.Lattice) (ecs.Entity, error) {
	if l.Count() == 0 {
		return ecs.Entity{}, fmt.Errorf("block %q has no lattice points (extents %v, spacing %v)", name, l.Extents, l.Spacing)
	}

	label := components.Label{Name: name, Order: s.nextOrder}
	block := components.Block{Extents: l.Extents, Spacing: l.Spacing}
	place := components.Placement{Center: l.Center}
	launch := components.Launch{VelocitySpread: l.VelocitySpread}
	s.nextOrder++

	return s.blockMapper.NewEntity(&label, &block, &place, &launch), nil
}

// RemoveBlock removes a block. Removing a dead entity is a no-op.
func (s *Scene) RemoveBlock(e ecs.Entity) {
	if !s.world.Alive(e) {
		return
	}
	s.world.RemoveEntity(e)
}

// Move re-centres a block.
func (s *Scene) Move(e ecs.Entity, center mgl32.Vec3) bool {
	if !s.world.Alive(e) {
		return false
	}
	_, _, place, _ := s.blockMapper.Get(e)
	place.Center = center
	return true
}

// Len returns the number of blocks.
func (s *Scene) Len() int {
	n := 0
	query := s.blockFilter.Query()
	for query.Next() {
		n++
	}
	return n
}

// Lattices returns one seeding lattice per block, in insertion order.
func (s *Scene) Lattices() []mpm.Lattice {
	type ordered struct {
		order   uint32
		lattice mpm.Lattice
	}
	var blocks []ordered

	query := s.blockFilter.Query()
	for query.Next() {
		label, block, place, launch := query.Get()
		blocks = append(blocks, ordered{
			order: label.Order,
			lattice: mpm.Lattice{
				Extents:        block.Extents,
				Spacing:        block.Spacing,
				Center:         place.Center,
				VelocitySpread: launch.VelocitySpread,
			},
		})
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].order < blocks[j].order })

	out := make([]mpm.Lattice, len(blocks))
	for i, b := range blocks {
		out[i] = b.lattice
	}
	return out
}

// ParticleCount returns the number of particles the scene seeds.
func (s *Scene) ParticleCount() int {
	n := 0
	for _, l := range s.Lattices() {
		n += l.Count()
	}
	return n
}

// Seed replaces the simulation's particles with the scene's blocks.
func (s *Scene) Seed(sim *mpm.Simulation) {
	sim.Initialize(s.Lattices()...)
}
