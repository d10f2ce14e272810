package position

import (
	"fmt"
	"math"
)

// Representable coordinate bounds of a packed key.
const (
	MinXZ = -(1 << 25)
	MaxXZ = 1<<25 - 1
	MinY  = 0
	MaxY  = 1<<12 - 1
)

type Pos struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func Of(x, y, z int32) Pos { return Pos{X: x, Y: y, Z: z} }

// Encode packs x into bits [0,26), z into [26,52) and y into [52,64).
// Out-of-range inputs wrap silently; see InRange.
func Encode(x, y, z int32) int64 {
	return (int64(x) & 0x3FFFFFF) |
		((int64(z) & 0x3FFFFFF) << 26) |
		((int64(y) & 0xFFF) << 52)
}

func Decode(key int64) Pos {
	return Pos{
		X: int32((key << 38) >> 38),
		Y: int32((key >> 52) & 0xFFF),
		Z: int32((key << 12) >> 38),
	}
}

func (p Pos) Key() int64 { return Encode(p.X, p.Y, p.Z) }

// InRange reports whether p survives an Encode/Decode round trip.
func (p Pos) InRange() bool {
	return p.X >= MinXZ && p.X <= MaxXZ &&
		p.Z >= MinXZ && p.Z <= MaxXZ &&
		p.Y >= MinY && p.Y <= MaxY
}

func (p Pos) Offset(dx, dy, dz int32) Pos { return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz} }
func (p Pos) Above() Pos                  { return p.Offset(0, 1, 0) }
func (p Pos) Below() Pos                  { return p.Offset(0, -1, 0) }

func (p Pos) ChunkX() int32 { return p.X >> 4 }
func (p Pos) ChunkZ() int32 { return p.Z >> 4 }

func (p Pos) DistanceTo(o Pos) float64 {
	dx := float64(p.X - o.X)
	dy := float64(p.Y - o.Y)
	dz := float64(p.Z - o.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (p Pos) String() string { return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z) }

func FromArray(a [3]int) Pos { return Pos{X: int32(a[0]), Y: int32(a[1]), Z: int32(a[2])} }

func (p Pos) Array() [3]int { return [3]int{int(p.X), int(p.Y), int(p.Z)} }
