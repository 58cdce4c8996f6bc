package workflow

import (
	"context"
	"sync"

	"github.com/tcmartin/upgraderunner/pkg/manager"
)

// stubManager is a scriptable ManagerAPI for tests. Any unset function
// behaves as an empty manager with free task slots.
type stubManager struct {
	mu    sync.Mutex
	calls []string

	submitTask      func(task manager.TaskDescriptor) error
	taskStatus      func() (*manager.TaskStatus, error)
	deleteTask      func() error
	patchTask       func(status string) error
	submitMigration func(migration manager.MigrationDescriptor) error
	migrationStatus func() (*manager.MigrationStatus, error)
	deleteMigration func() error
	selfUpdate      func() (*manager.SelfUpdateStatus, error)
	updateVersions  func() (*manager.VersionInfo, error)
}

func (s *stubManager) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubManager) callCount(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (s *stubManager) SubmitTask(ctx context.Context, task manager.TaskDescriptor) error {
	s.record("submitTask:" + task.Name)
	if s.submitTask != nil {
		return s.submitTask(task)
	}
	return nil
}

func (s *stubManager) GetTaskStatus(ctx context.Context) (*manager.TaskStatus, error) {
	s.record("getTaskStatus")
	if s.taskStatus != nil {
		return s.taskStatus()
	}
	return nil, nil
}

func (s *stubManager) DeleteTask(ctx context.Context) error {
	s.record("deleteTask")
	if s.deleteTask != nil {
		return s.deleteTask()
	}
	return nil
}

func (s *stubManager) PatchTaskStatus(ctx context.Context, status string) error {
	s.record("patchTaskStatus:" + status)
	if s.patchTask != nil {
		return s.patchTask(status)
	}
	return nil
}

func (s *stubManager) SubmitMigration(ctx context.Context, migration manager.MigrationDescriptor) error {
	if migration.Hash == "" {
		s.record("submitMigration:check")
	} else {
		s.record("submitMigration:" + migration.Hash)
	}
	if s.submitMigration != nil {
		return s.submitMigration(migration)
	}
	return nil
}

func (s *stubManager) GetMigrationStatus(ctx context.Context) (*manager.MigrationStatus, error) {
	s.record("getMigrationStatus")
	if s.migrationStatus != nil {
		return s.migrationStatus()
	}
	return nil, nil
}

func (s *stubManager) DeleteMigrationTask(ctx context.Context) error {
	s.record("deleteMigrationTask")
	if s.deleteMigration != nil {
		return s.deleteMigration()
	}
	return nil
}

func (s *stubManager) GetSelfUpdateStatus(ctx context.Context) (*manager.SelfUpdateStatus, error) {
	s.record("getSelfUpdateStatus")
	if s.selfUpdate != nil {
		return s.selfUpdate()
	}
	return &manager.SelfUpdateStatus{CurrentVersion: "1.0.0", LatestVersion: "1.0.0"}, nil
}

func (s *stubManager) UpdateVersionInfo(ctx context.Context) (*manager.VersionInfo, error) {
	s.record("updateVersionInfo")
	if s.updateVersions != nil {
		return s.updateVersions()
	}
	return &manager.VersionInfo{Success: true}, nil
}
