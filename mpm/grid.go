package mpm

import "github.com/go-gl/mathgl/mgl32"

// Grid is the dense R*R*R cell lattice, stored flat in x-fastest order.
type Grid struct {
	Res   int
	Cells []Cell
}

// NewGrid allocates a grid and stamps every cell with its flat index.
func NewGrid(res int) *Grid {
	g := &Grid{
		Res:   res,
		Cells: make([]Cell, res*res*res),
	}
	for i := range g.Cells {
		g.Cells[i].Index = uint32(i)
	}
	return g
}

// Index flattens cell coordinates.
func (g *Grid) Index(x, y, z int) int {
	return x + y*g.Res + z*g.Res*g.Res
}

// Coords is the inverse of Index.
func (g *Grid) Coords(i int) (x, y, z int) {
	x = i % g.Res
	y = (i / g.Res) % g.Res
	z = i / (g.Res * g.Res)
	return x, y, z
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.Cells)
}

// clearRange zeroes mass and velocity of cells [i0, i1).
func (g *Grid) clearRange(i0, i1 int) {
	for i := i0; i < i1; i++ {
		c := &g.Cells[i]
		c.Vel = mgl32.Vec3{}
		c.Mass = 0
	}
}

// addRange adds a stride-4 accumulation buffer (vx, vy, vz, mass) into
// cells [i0, i1).
func (g *Grid) addRange(acc []float32, i0, i1 int) {
	for i := i0; i < i1; i++ {
		j := i * accStride
		c := &g.Cells[i]
		c.Vel[0] += acc[j]
		c.Vel[1] += acc[j+1]
		c.Vel[2] += acc[j+2]
		c.Mass += acc[j+3]
	}
}

// updateRange turns momentum into velocity, applies gravity and zeroes the
// velocity component normal to any wall the cell sits in.
// Empty cells are skipped; the clear pass already zeroed them.
func (g *Grid) updateRange(i0, i1 int, dt, gravity float32) {
	hi := g.Res - 2
	for i := i0; i < i1; i++ {
		c := &g.Cells[i]
		if c.Mass <= 0 {
			continue
		}
		c.Vel[0] /= c.Mass
		c.Vel[1] /= c.Mass
		c.Vel[2] /= c.Mass
		c.Vel[1] += dt * gravity

		x, y, z := g.Coords(int(c.Index))
		if x < 1 || x > hi {
			c.Vel[0] = 0
		}
		if y < 1 || y > hi {
			c.Vel[1] = 0
		}
		if z < 1 || z > hi {
			c.Vel[2] = 0
		}
	}
}

// TotalMass sums cell mass.
func (g *Grid) TotalMass() float64 {
	var total float64
	for i := range g.Cells {
		total += float64(g.Cells[i].Mass)
	}
	return total
}

// ActiveCells counts cells that received mass this tick.
func (g *Grid) ActiveCells() int {
	n := 0
	for i := range g.Cells {
		if g.Cells[i].Mass > 0 {
			n++
		}
	}
	return n
}
