package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AABB is an axis-aligned bounding box in world space
type AABB struct {
	Min, Max mgl64.Vec3
}

// BoxFromCenter builds a box from its center and half extents
func BoxFromCenter(center, half mgl64.Vec3) AABB {
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

// Contains reports whether p lies inside the box, faces included
func (b AABB) Contains(p mgl64.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Expand grows the box by r on every side
func (b AABB) Expand(r float64) AABB {
	d := mgl64.Vec3{r, r, r}
	return AABB{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

// SegmentIntersects reports whether the segment a→b touches the box (slab test)
func (b AABB) SegmentIntersects(a, c mgl64.Vec3) bool {
	tMin, tMax := 0.0, 1.0
	d := c.Sub(a)
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if a[i] < b.Min[i] || a[i] > b.Max[i] {
				return false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (b.Min[i] - a[i]) * inv
		t2 := (b.Max[i] - a[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return false
		}
	}
	return true
}

// Hit describes a projectile found inside a target volume
type Hit struct {
	ProjectileID string
	Target       int // index into the targets slice
	Position     mgl64.Vec3
}

// CollisionDetector tests projectiles against target volumes. It is a pure
// predicate: removal and explosions are the caller's response to a Hit.
type CollisionDetector struct {
	Swept bool // test the swept segment instead of the end point
}

// Check returns the first target, in slice order, that contains the
// projectile. Later targets are not reported once one matches.
func (d CollisionDetector) Check(p *Projectile, targets []AABB) (Hit, bool) {
	for i, box := range targets {
		var inside bool
		if d.Swept {
			inside = box.SegmentIntersects(p.PrevPos, p.Pos)
		} else {
			inside = box.Contains(p.Pos)
		}
		if inside {
			return Hit{ProjectileID: p.ID, Target: i, Position: p.Pos}, true
		}
	}
	return Hit{}, false
}
