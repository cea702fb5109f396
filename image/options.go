package image

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CapabilityPolicy decides what a load does when the image references
// something this build cannot represent.
type CapabilityPolicy string

const (
	// CapabilitySubstitute replaces the reference with a null or generic
	// stand-in, records a diagnostic and continues.
	CapabilitySubstitute CapabilityPolicy = "substitute"

	// CapabilityFail aborts the load and rolls back.
	CapabilityFail CapabilityPolicy = "fail"
)

// Valid reports whether p is a known policy.
func (p CapabilityPolicy) Valid() bool {
	return p == CapabilitySubstitute || p == CapabilityFail
}

const (
	// DefaultMaxRecords bounds a single arena allocation.
	DefaultMaxRecords int64 = 1 << 24

	// DefaultMaxSegmentBytes bounds a single segment read.
	DefaultMaxSegmentBytes int64 = 1 << 30
)

// Options configures an Engine.
type Options struct {
	Logger          *zap.Logger
	Capability      CapabilityPolicy
	MaxRecords      int64
	MaxSegmentBytes int64
	ImageID         uuid.UUID
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithCapabilityPolicy sets how capability mismatches are handled.
func WithCapabilityPolicy(p CapabilityPolicy) Option {
	return func(o *Options) { o.Capability = p }
}

// WithMaxRecords bounds every arena allocation during load.
func WithMaxRecords(n int64) Option {
	return func(o *Options) { o.MaxRecords = n }
}

// WithMaxSegmentBytes bounds every segment and atom pool entry read during load.
func WithMaxSegmentBytes(n int64) Option {
	return func(o *Options) { o.MaxSegmentBytes = n }
}

// WithImageID fixes the id written into saved images. By default every
// save gets a fresh random id.
func WithImageID(id uuid.UUID) Option {
	return func(o *Options) { o.ImageID = id }
}

func defaultOptions() Options {
	return Options{
		Capability:      CapabilitySubstitute,
		MaxRecords:      DefaultMaxRecords,
		MaxSegmentBytes: DefaultMaxSegmentBytes,
	}
}
