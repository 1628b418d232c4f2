// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// rotationEpsilon is the rotation-vector magnitude below which the
// rotation is treated as no rotation at all.
const rotationEpsilon = 1e-9

// Quaternion is the canonical representation of orientation for the app.
// Values are replaced wholesale, never mutated in place.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// MotionVector is a 3-axis reading, used for both angular velocity (rad/s)
// and linear acceleration (m/s²).
type MotionVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DefaultQuaternion is the orientation reported before any rotation-vector
// sample has arrived.
func DefaultQuaternion() Quaternion {
	return Quaternion{X: 0, Y: 0, Z: 0, W: -1}
}

// IdentityQuaternion is the orientation for a zero rotation vector.
func IdentityQuaternion() Quaternion {
	return Quaternion{X: 0, Y: 0, Z: 0, W: 1}
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// QuaternionFromRotationVector converts an axis-angle rotation vector
// (rx, ry, rz) into a unit quaternion using the half-angle decomposition:
//
//	angle = |r|
//	w     = cos(angle/2)
//	xyz   = r/angle * sin(angle/2)
//
// Fused sensors may append a scalar component and an accuracy estimate to
// the vector; only the first three values take part in the conversion.
// Fewer than three values yields ok=false.
func QuaternionFromRotationVector(values []float64) (q Quaternion, ok bool) {
	if len(values) < 3 {
		return Quaternion{}, false
	}
	rx, ry, rz := values[0], values[1], values[2]

	angle := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if angle < rotationEpsilon {
		return IdentityQuaternion(), true
	}

	half := angle / 2
	s := math.Sin(half) / angle
	return Quaternion{
		X: rx * s,
		Y: ry * s,
		Z: rz * s,
		W: math.Cos(half),
	}, true
}

// VectorFromValues builds a MotionVector from the first three values of a
// sensor event. Fewer than three values yields ok=false.
func VectorFromValues(values []float64) (MotionVector, bool) {
	if len(values) < 3 {
		return MotionVector{}, false
	}
	return MotionVector{X: values[0], Y: values[1], Z: values[2]}, true
}
