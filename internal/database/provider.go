package database

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Backend bundles the repository constructors of one storage backend.
// Backends register themselves to avoid import cycles.
type Backend struct {
	Name         string
	Biometric    func() BiometricWriter
	Ledger       func() AttendanceLedger
	UnknownFaces func() UnknownFaceStore
	Jobs         func() JobStore
	Closer       io.Closer
}

var (
	backendMu sync.RWMutex
	backend   *Backend
)

// RegisterBackend registers the active storage backend.
// This is called by the postgres and sqlite packages after they connect.
func RegisterBackend(b Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = &b
}

// ResetBackend unregisters the active backend, closing it when possible.
func ResetBackend() error {
	backendMu.Lock()
	defer backendMu.Unlock()
	if backend == nil {
		return nil
	}
	var err error
	if backend.Closer != nil {
		err = backend.Closer.Close()
	}
	backend = nil
	return err
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend != nil
}

// BackendName returns the name of the registered backend, or empty string.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return ""
	}
	return backend.Name
}

func current() (*Backend, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return nil, fmt.Errorf("storage backend not initialized")
	}
	return backend, nil
}

// GetBiometricReader returns a BiometricReader from the registered backend
func GetBiometricReader(ctx context.Context) (BiometricReader, error) {
	return GetBiometricWriter(ctx)
}

// GetBiometricWriter returns a BiometricWriter from the registered backend
func GetBiometricWriter(ctx context.Context) (BiometricWriter, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Biometric == nil {
		return nil, fmt.Errorf("%s biometric store not registered", b.Name)
	}
	return b.Biometric(), nil
}

// GetStudentPurger returns a StudentPurger if the backend's biometric store supports it
func GetStudentPurger(ctx context.Context) (StudentPurger, error) {
	w, err := GetBiometricWriter(ctx)
	if err != nil {
		return nil, err
	}
	purger, ok := w.(StudentPurger)
	if !ok {
		return nil, fmt.Errorf("biometric store does not support purging students")
	}
	return purger, nil
}

// GetAttendanceLedger returns an AttendanceLedger from the registered backend
func GetAttendanceLedger(ctx context.Context) (AttendanceLedger, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Ledger == nil {
		return nil, fmt.Errorf("%s attendance ledger not registered", b.Name)
	}
	return b.Ledger(), nil
}

// GetUnknownFaceStore returns an UnknownFaceStore from the registered backend
func GetUnknownFaceStore(ctx context.Context) (UnknownFaceStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.UnknownFaces == nil {
		return nil, fmt.Errorf("%s unknown face store not registered", b.Name)
	}
	return b.UnknownFaces(), nil
}

// GetJobStore returns a JobStore from the registered backend
func GetJobStore(ctx context.Context) (JobStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Jobs == nil {
		return nil, fmt.Errorf("%s job store not registered", b.Name)
	}
	return b.Jobs(), nil
}
