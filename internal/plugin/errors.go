package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed registry errors through errors.Is.
var (
	ErrDuplicateDomain     = errors.New("domain already registered")
	ErrInvalidPlugin       = errors.New("invalid plugin")
	ErrUnknownDomain       = errors.New("unknown domain")
	ErrUnsupportedDataType = errors.New("unsupported data type")
)

// DuplicateDomainError is returned when a domain id is registered twice.
type DuplicateDomainError struct {
	DomainID string
}

func (e *DuplicateDomainError) Error() string {
	return fmt.Sprintf("domain %q already registered", e.DomainID)
}

func (e *DuplicateDomainError) Is(target error) bool { return target == ErrDuplicateDomain }

// InvalidPluginError is returned when an engine does not describe the full
// capability set required for registration.
type InvalidPluginError struct {
	DomainID string
	Reason   string
}

func (e *InvalidPluginError) Error() string {
	return fmt.Sprintf("invalid plugin for domain %q: %s", e.DomainID, e.Reason)
}

func (e *InvalidPluginError) Is(target error) bool { return target == ErrInvalidPlugin }

// UnknownDomainError is returned when a packet names an unregistered domain.
type UnknownDomainError struct {
	DomainID string
}

func (e *UnknownDomainError) Error() string {
	return fmt.Sprintf("unknown domain %q", e.DomainID)
}

func (e *UnknownDomainError) Is(target error) bool { return target == ErrUnknownDomain }

// UnsupportedDataTypeError is returned when the domain does not declare the
// packet's data type.
type UnsupportedDataTypeError struct {
	DomainID string
	DataType string
}

func (e *UnsupportedDataTypeError) Error() string {
	return fmt.Sprintf("domain %q does not support data type %q", e.DomainID, e.DataType)
}

func (e *UnsupportedDataTypeError) Is(target error) bool { return target == ErrUnsupportedDataType }
