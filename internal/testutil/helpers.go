// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil holds image builders shared by package tests.
package testutil

// Ramp returns n bytes counting up from 0 and wrapping at 256, so every
// offset of a small image has a distinct value.
func Ramp(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i)
	}
	return img
}

// Fill returns n copies of b.
func Fill(n int, b byte) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = b
	}
	return img
}
