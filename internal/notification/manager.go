package notification

import (
	"fmt"
	"sync"
)

var (
	instance *Service
	mu       sync.RWMutex
)

// Initialize sets up the global notification service. Calling it again
// replaces the service, so a reloaded config takes effect.
func Initialize(config *ServiceConfig) error {
	svc, err := NewService(config)
	if err != nil {
		return err
	}
	mu.Lock()
	instance = svc
	mu.Unlock()
	return nil
}

// GetService returns the global notification service instance, or nil.
func GetService() *Service {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetServiceForTesting installs a service for tests. It fails when a
// service is already installed.
func SetServiceForTesting(service *Service) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return fmt.Errorf("notification service already initialized")
	}
	instance = service
	return nil
}

// ResetForTesting clears the global service.
func ResetForTesting() {
	mu.Lock()
	instance = nil
	mu.Unlock()
}

// IsInitialized checks if the notification service has been initialized.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return instance != nil
}
