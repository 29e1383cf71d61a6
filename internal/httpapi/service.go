package httpapi

import (
	"context"
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/hardware"
	"modelpilot/internal/manager"
	"modelpilot/internal/pipeline"
	"modelpilot/internal/resource"
	"modelpilot/pkg/types"
)

// App implements Service over the running manager, catalog and pipeline.
type App struct {
	Manager  *manager.Manager
	Catalog  manager.Catalog
	Pipeline *pipeline.Pipeline
	Profiles resource.ProfileSource
	Started  time.Time
}

var _ Service = (*App)(nil)

func (a *App) ListModels(ctx context.Context, capability string) ([]types.Model, error) {
	if capability == "" {
		return ModelsFromDescriptors(a.Catalog.List()), nil
	}
	m, err := catalog.ParseModality(capability)
	if err != nil {
		return nil, &pipeline.ValidationError{Field: "capability", Msg: err.Error()}
	}
	return ModelsFromDescriptors(a.Manager.Candidates(ctx, m)), nil
}

func (a *App) Status(ctx context.Context) types.StatusResponse {
	st := a.Manager.Status(ctx)
	if !a.Started.IsZero() {
		st.UptimeSeconds = int64(time.Since(a.Started).Seconds())
	}
	return st
}

// refresher is implemented by profile sources that can re-detect the host.
type refresher interface {
	Refresh(ctx context.Context) hardware.Profile
}

func (a *App) Hardware(ctx context.Context, refresh bool) hardware.Profile {
	if r, ok := a.Profiles.(refresher); ok && refresh {
		return r.Refresh(ctx)
	}
	return a.Profiles.Profile(ctx)
}

func (a *App) Ready() bool { return a.Manager.Ready() }

func (a *App) SubmitJob(ctx context.Context, req types.JobRequest) (types.JobStatus, error) {
	in, opts, err := pipeline.FromRequest(req)
	if err != nil {
		return types.JobStatus{}, err
	}
	h, err := a.Pipeline.Submit(ctx, in, opts)
	if err != nil {
		return types.JobStatus{}, err
	}
	return a.Pipeline.Status(h.ID)
}

func (a *App) JobStatus(id string) (types.JobStatus, error) { return a.Pipeline.Status(id) }

func (a *App) Jobs() []types.JobStatus { return a.Pipeline.List() }

func (a *App) JobResult(id string) (*pipeline.JobResult, error) { return a.Pipeline.Result(id) }

func (a *App) CancelJob(id string) error { return a.Pipeline.Cancel(id) }

// ModelsFromDescriptors converts catalog entries to API models.
func ModelsFromDescriptors(ds []catalog.ModelDescriptor) []types.Model {
	out := make([]types.Model, 0, len(ds))
	for _, d := range ds {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		m := types.Model{
			ID:             d.ID,
			Provider:       string(d.Provider),
			Ref:            d.Ref,
			Capabilities:   caps,
			MinMemoryBytes: d.MinRequiredMemoryBytes,
			RecommendedGPU: d.RecommendedGPU,
			DisplayName:    d.DisplayName,
			Description:    d.Description,
			Source:         string(d.Source),
		}
		if !d.LastSeen.IsZero() {
			m.LastSeenUnix = d.LastSeen.Unix()
		}
		out = append(out, m)
	}
	return out
}
