package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
)

func TestAABBContains(t *testing.T) {
	box := BoxFromCenter(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 2, 3})

	tests := []struct {
		name string
		p    mgl64.Vec3
		want bool
	}{
		{"center", mgl64.Vec3{0, 0, 0}, true},
		{"on face", mgl64.Vec3{1, 0, 0}, true},
		{"corner", mgl64.Vec3{-1, -2, -3}, true},
		{"outside x", mgl64.Vec3{1.01, 0, 0}, false},
		{"outside z", mgl64.Vec3{0, 0, 3.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, box.Contains(tt.p))
		})
	}
}

func TestAABBExpand(t *testing.T) {
	box := AABB{Max: mgl64.Vec3{1, 1, 1}}.Expand(0.5)
	assert.Equal(t, mgl64.Vec3{-0.5, -0.5, -0.5}, box.Min)
	assert.Equal(t, mgl64.Vec3{1.5, 1.5, 1.5}, box.Max)
}

func TestAABBSegmentIntersects(t *testing.T) {
	box := AABB{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 1, 1}}

	tests := []struct {
		name string
		a, b mgl64.Vec3
		want bool
	}{
		{"through", mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{5, 0, 0}, true},
		{"ends inside", mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{0, 0, 0}, true},
		{"stops short", mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{-2, 0, 0}, false},
		{"parallel outside", mgl64.Vec3{-5, 2, 0}, mgl64.Vec3{5, 2, 0}, false},
		{"diagonal miss", mgl64.Vec3{-5, 5, 0}, mgl64.Vec3{5, 3, 0}, false},
		{"point inside", mgl64.Vec3{0.5, 0.5, 0.5}, mgl64.Vec3{0.5, 0.5, 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, box.SegmentIntersects(tt.a, tt.b))
		})
	}
}

func TestCollisionFirstTargetWins(t *testing.T) {
	outer := AABB{Min: mgl64.Vec3{-10, -10, -10}, Max: mgl64.Vec3{10, 10, 10}}
	inner := AABB{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 1, 1}}
	p := &Projectile{ID: "p1", Pos: mgl64.Vec3{0, 0, 0}}

	var d CollisionDetector
	hit, ok := d.Check(p, []AABB{inner, outer})
	assert.True(t, ok)
	assert.Equal(t, 0, hit.Target)
	assert.Equal(t, "p1", hit.ProjectileID)

	hit, ok = d.Check(p, []AABB{outer, inner})
	assert.True(t, ok)
	assert.Equal(t, 0, hit.Target)
}

func TestCollisionMiss(t *testing.T) {
	var d CollisionDetector
	p := &Projectile{Pos: mgl64.Vec3{50, 0, 0}}
	_, ok := d.Check(p, []AABB{{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 1, 1}}})
	assert.False(t, ok)

	_, ok = d.Check(p, nil)
	assert.False(t, ok)
}

func TestCollisionSweptCatchesTunnelling(t *testing.T) {
	wall := AABB{Min: mgl64.Vec3{-0.5, -10, -10}, Max: mgl64.Vec3{0.5, 10, 10}}
	// One step carried the shell clean through the wall
	p := &Projectile{PrevPos: mgl64.Vec3{-5, 0, 0}, Pos: mgl64.Vec3{5, 0, 0}}

	_, ok := CollisionDetector{}.Check(p, []AABB{wall})
	assert.False(t, ok)

	hit, ok := CollisionDetector{Swept: true}.Check(p, []AABB{wall})
	assert.True(t, ok)
	assert.Equal(t, 0, hit.Target)
}
