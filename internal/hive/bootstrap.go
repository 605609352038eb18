package hive

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"hivesync.gg/internal/persistence/store"
)

type BootstrapResult struct {
	TenantID  string
	ClusterID string
	ServerIDs []string
	Created   bool
}

// Bootstrap provisions a minimal fixture: one tenant, one cluster, two
// servers. Idempotent; a second call returns the existing topology.
func (s *Service) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	now := s.now().UTC()

	t, err := s.store.FirstTenant(ctx)
	if err == nil {
		cl, err := s.store.FirstClusterForTenant(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		servers, err := s.store.ListServersForCluster(ctx, cl.ID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(servers))
		for _, sv := range servers {
			ids = append(ids, sv.ID)
		}
		return &BootstrapResult{TenantID: t.ID, ClusterID: cl.ID, ServerIDs: ids, Created: false}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tenant := store.Tenant{ID: uuid.NewString(), Name: "default", OwnerID: "operator", CreatedAt: now}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	cluster := store.Cluster{ID: uuid.NewString(), TenantID: tenant.ID, Name: "main", CreatedAt: now}
	if err := s.store.CreateCluster(ctx, cluster); err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range []string{"server-1", "server-2"} {
		sv := store.Server{
			ID:              uuid.NewString(),
			ClusterID:       cluster.ID,
			Name:            name,
			HostFingerprint: "bootstrap:" + name,
			Status:          "active",
			CreatedAt:       now,
		}
		if err := s.store.CreateServer(ctx, sv); err != nil {
			return nil, err
		}
		ids = append(ids, sv.ID)
	}
	s.emitEvent(ctx, "cluster_bootstrapped", "operator", cluster.ID, "", map[string]any{
		"tenant_id": tenant.ID,
		"servers":   ids,
	})
	return &BootstrapResult{TenantID: tenant.ID, ClusterID: cluster.ID, ServerIDs: ids, Created: true}, nil
}
