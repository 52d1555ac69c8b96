// Package components defines ECS components for the fluid scene.
package components

import "github.com/go-gl/mathgl/mgl32"

// Block is a box of particles seeded on a regular lattice.
type Block struct {
	Extents [3]int  // box size in grid cells per axis
	Spacing float32 // distance between neighbouring particles
}

// Placement positions a block inside the grid.
type Placement struct {
	Center mgl32.Vec3 // zero means the grid centre
}

// Launch holds the initial velocity distribution of a block.
type Launch struct {
	VelocitySpread float32 // horizontal/depth speed drawn from [-s, s]
}

// Label identifies a block and fixes its seeding order.
type Label struct {
	Name  string
	Order uint32
}
