package devmode

import (
	"context"
	"errors"
	"fmt"

	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

// updateCache applies status events to the store.
func (s *Service) updateCache(ctx context.Context, ev events.Event) error {
	rec, err := ev.Record()
	if err != nil {
		return err
	}

	switch ev.Topic {
	case events.TopicContainerCreated, events.TopicContainerUpdated:
		if err := s.store.Put(ctx, rec); err != nil {
			return err
		}
		return s.deliverDeferredCode(ctx, rec)
	case events.TopicContainerDeleted:
		return s.store.Delete(ctx, rec.Key())
	case events.TopicStatisticsUpdated:
		return s.mergeUsage(ctx, rec)
	}
	return nil
}

// deliverDeferredCode requests a reload once a container whose code copy
// was deferred reports running.
func (s *Service) deliverDeferredCode(ctx context.Context, rec status.ContainerStatus) error {
	if rec.Type != status.TypeDevMode || rec.State != status.StateRunning || rec.CodeLoaded || rec.ContainerID == "" {
		return nil
	}
	if !s.takeDeferred(rec.ProjectID) {
		return nil
	}
	logging.Info(subsystem, "Container of %s is running, delivering its code", rec.ProjectID)
	return s.command(ctx, events.TopicReloadCommand, rec.ProjectID)
}

func (s *Service) deferCode(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred[projectID] = struct{}{}
}

func (s *Service) takeDeferred(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deferred[projectID]; !ok {
		return false
	}
	delete(s.deferred, projectID)
	return true
}

// mergeUsage copies only the usage fields so a sample taken before a
// reconcile pass cannot roll back the runtime-owned fields.
func (s *Service) mergeUsage(ctx context.Context, sample status.ContainerStatus) error {
	current, ok, err := s.store.Get(ctx, sample.Key())
	if err != nil {
		return err
	}
	if !ok || current.ContainerID != sample.ContainerID {
		logging.Debug(subsystem, "Dropping usage sample for %s, container is gone", sample.Key())
		return nil
	}
	if current.MemoryInfo == sample.MemoryInfo && current.CPUInfo == sample.CPUInfo {
		return nil
	}
	current.MemoryInfo = sample.MemoryInfo
	current.CPUInfo = sample.CPUInfo
	return s.store.Put(ctx, current)
}

// handleCommand executes run, reload and delete commands. Commands of one
// project arrive one at a time and in order.
func (s *Service) handleCommand(ctx context.Context, ev events.Event) error {
	cmd, err := ev.Command()
	if err != nil {
		return err
	}

	switch ev.Topic {
	case events.TopicReloadCommand:
		return s.reloader.Reload(ctx, cmd.ProjectID)
	case events.TopicDeleteCommand:
		return s.deleteContainer(ctx, cmd)
	case events.TopicRunCommand:
		return s.runContainer(ctx, cmd)
	}
	return fmt.Errorf("unknown command topic %s", ev.Topic)
}

func (s *Service) deleteContainer(ctx context.Context, cmd events.Command) error {
	defer s.trigger.Trigger(s.env(cmd.Env))

	if err := s.runtime.Delete(ctx, cmd.ProjectID); err != nil {
		s.restoreState(ctx, cmd)
		return fmt.Errorf("failed to delete container of %s: %w", cmd.ProjectID, err)
	}
	logging.Info(subsystem, "Deleted dev-mode container of %s", cmd.ProjectID)
	return nil
}

// restoreState replaces the removing state set by RequestDelete with the
// state the runtime reports, so a failed delete can be retried. The removing
// update may still be queued; this one is delivered after it.
func (s *Service) restoreState(ctx context.Context, cmd events.Command) {
	key := status.NewGroupedKey(cmd.ProjectID, s.env(cmd.Env), status.TypeDevMode)
	rec, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return
	}
	obj, found, err := s.runtime.FindByName(ctx, cmd.ProjectID)
	if err != nil {
		logging.Warn(subsystem, "Cannot restore state of %s: %v", key, err)
		return
	}
	if !found {
		return
	}
	rec.State = obj.State
	rec.Commands = status.CommandsForState(obj.State)
	if err := events.PublishRecord(ctx, s.bus, events.TopicContainerUpdated, rec); err != nil {
		logging.Warn(subsystem, "Failed to restore state of %s: %v", key, err)
	}
}

func (s *Service) runContainer(ctx context.Context, cmd events.Command) error {
	defer s.trigger.Trigger(s.env(cmd.Env))

	obj, ok, err := s.runtime.FindByName(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	if ok {
		if obj.State == status.StateRunning {
			return nil
		}
		return s.runtime.Start(ctx, obj.Name)
	}

	files, err := s.source.Files(ctx, cmd.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to read files of %s: %w", cmd.ProjectID, err)
	}

	obj, err = s.runtime.Create(ctx, s.containerConfig(cmd))
	if err != nil {
		return err
	}
	err = s.runtime.CopyFiles(ctx, obj.ID, s.config.CodeDir, files)
	switch {
	case errors.Is(err, containerizer.ErrNotRunning):
		// pods start on creation; the code follows once it runs
		s.deferCode(cmd.ProjectID)
		logging.Info(subsystem, "Container of %s is not running yet, deferring %d file(s)", cmd.ProjectID, len(files))
	case err != nil:
		return err
	}
	if err := s.runtime.Start(ctx, obj.Name); err != nil {
		return err
	}
	logging.Info(subsystem, "Started dev-mode container of %s with %d file(s)", cmd.ProjectID, len(files))
	return nil
}

func (s *Service) containerConfig(cmd events.Command) containerizer.ContainerConfig {
	labels := map[string]string{
		containerizer.LabelProjectID: cmd.ProjectID,
		containerizer.LabelType:      string(status.TypeDevMode),
		containerizer.LabelEnv:       s.env(cmd.Env),
	}
	if s.config.CamelRuntime != "" {
		labels[containerizer.LabelCamelRuntime] = s.config.CamelRuntime
	}
	return containerizer.ContainerConfig{
		Name:   cmd.ProjectID,
		Image:  s.config.Image,
		Labels: labels,
		Env: map[string]string{
			"PROJECT_ID": cmd.ProjectID,
		},
		Ports:          []int{s.config.Port},
		Network:        s.config.Network,
		ServiceAccount: s.config.ServiceAccount,
	}
}
