package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	// ErrPermissionDenied reports that access to the camera was refused
	ErrPermissionDenied = errors.New("camera access was denied")

	// ErrDevice reports any other failure to acquire the camera
	ErrDevice = errors.New("unable to access camera")

	// ErrCapture reports that no still image could be produced
	ErrCapture = errors.New("failed to capture image")
)

const defaultRemediation = "Check your device settings to allow camera access, then try again"

// Constraints describes the stream a Device should try to deliver
type Constraints struct {
	FacingMode string // "environment" (rear) or "user" (front)
	Width      int
	Height     int
}

// DefaultConstraints prefers the rear camera at 1280x720
var DefaultConstraints = Constraints{
	FacingMode: "environment",
	Width:      1280,
	Height:     720,
}

// Device defines the interface for acquiring a video stream
type Device interface {
	// Open requests a stream. Permission refusals must wrap ErrPermissionDenied.
	Open(ctx context.Context, constraints Constraints) (Stream, error)
}

// Stream is a live video source acquired from a Device
type Stream interface {
	// Frame returns the current frame
	Frame() (image.Image, error)
	// Close stops all tracks and releases the device
	Close() error
}

// Remediator is implemented by devices that know how to fix a permission refusal
type Remediator interface {
	Remediation() string
}

// PermissionError carries user-facing instructions for a refused camera
type PermissionError struct {
	Remediation string
	Err         error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Remediation)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}
