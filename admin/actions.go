package admin

import (
	"net/http"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/request"
)

// action is one dispatchable admin-ajax action
type action struct {
	capability string
	run        func(r *http.Request, body []byte) (interface{}, error)
}

func (h *AdminHandlers) registerActions() map[string]action {
	edit := func(run func(*http.Request, []byte) (interface{}, error)) action {
		return action{capability: actor.CapEditPosts, run: run}
	}
	manage := func(run func(*http.Request, []byte) (interface{}, error)) action {
		return action{capability: actor.CapManageOptions, run: run}
	}

	return map[string]action{
		"search":         edit(h.search),
		"preview":        edit(h.preview),
		"replace":        edit(h.replace),
		"update_row":     edit(h.updateRow),
		"get_meta_keys":  edit(h.metaKeys),
		"get_post_types": edit(h.postTypes),
		"backup":         edit(h.snapshot),
		"backups":        edit(h.backups),
		"restore":        edit(h.restore),
		"restore_all":    edit(h.restoreAll),
		"get_settings":   manage(h.getSettings),
		"save_settings":  manage(h.saveSettings),
		"get_logs":       manage(h.logs),
		"run_cleanup":    manage(h.cleanup),
	}
}

func (h *AdminHandlers) search(r *http.Request, body []byte) (interface{}, error) {
	var req request.Search
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Search.Search(r.Context(), req.Params())
}

func (h *AdminHandlers) preview(r *http.Request, body []byte) (interface{}, error) {
	var req request.Replace
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Replace.Preview(r.Context(), req.Params())
}

func (h *AdminHandlers) replace(r *http.Request, body []byte) (interface{}, error) {
	var req request.Replace
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Replace.Execute(r.Context(), req.Params())
}

func (h *AdminHandlers) updateRow(r *http.Request, body []byte) (interface{}, error) {
	var req request.UpdateRow
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	out, err := h.svc.Replace.UpdateRow(r.Context(), req.PostID, req.MetaKey, req.NewValue)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"revision_id": out.Revision.RevisionID,
		"post_id":     req.PostID,
		"meta_key":    req.MetaKey,
		"created":     out.Created,
	}, nil
}

func (h *AdminHandlers) metaKeys(r *http.Request, body []byte) (interface{}, error) {
	var req request.MetaKeys
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Search.MetaKeys(r.Context(), req.PostType)
}

func (h *AdminHandlers) postTypes(r *http.Request, _ []byte) (interface{}, error) {
	return h.svc.Search.PostTypes(r.Context())
}

func (h *AdminHandlers) snapshot(r *http.Request, body []byte) (interface{}, error) {
	var req request.Pair
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	rev, err := h.svc.Backups.Snapshot(r.Context(), req.PostID, req.MetaKey)
	if err != nil {
		return nil, err
	}
	h.svc.Logger.Info(r.Context(), "backup", "Created manual backup", map[string]interface{}{
		"post_id":     req.PostID,
		"meta_key":    req.MetaKey,
		"revision_id": rev.RevisionID.String(),
	})
	return rev, nil
}

func (h *AdminHandlers) backups(r *http.Request, body []byte) (interface{}, error) {
	var req request.Pair
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Backups.List(r.Context(), req.PostID, req.MetaKey)
}

func (h *AdminHandlers) restore(r *http.Request, body []byte) (interface{}, error) {
	var req request.Restore
	if err := bind(body, &req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	var restored backup.Restored
	var err error
	if req.RevisionID != 0 {
		restored, err = h.svc.Backups.RestoreRevision(ctx, req.RevisionID)
	} else {
		restored, err = h.svc.Backups.RestoreLatest(ctx, req.PostID, req.MetaKey)
	}
	if err != nil {
		return nil, err
	}

	h.svc.Logger.Info(ctx, "restore", "Restored meta value", map[string]interface{}{
		"post_id":       restored.PostID,
		"meta_key":      restored.MetaKey,
		"restored_from": restored.RestoredFrom.String(),
		"backup_id":     restored.BackupID.String(),
	})
	return restored, nil
}

func (h *AdminHandlers) restoreAll(r *http.Request, body []byte) (interface{}, error) {
	var req request.RestoreAll
	if err := bind(body, &req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	res, err := h.svc.Backups.RestoreBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"batch_id":         req.BatchID,
		"restore_batch_id": res.BatchID,
		"restored":         res.Restored,
		"failed":           res.Failed,
	}
	if res.Failed > 0 {
		h.svc.Logger.Warning(ctx, "restore_all", "Batch restored with failures", fields)
	} else {
		h.svc.Logger.Info(ctx, "restore_all", "Batch restored", fields)
	}
	return res, nil
}

func (h *AdminHandlers) getSettings(r *http.Request, _ []byte) (interface{}, error) {
	return h.svc.Settings.Get(r.Context())
}

func (h *AdminHandlers) saveSettings(r *http.Request, body []byte) (interface{}, error) {
	var req request.Settings
	if err := bind(body, &req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	current, err := h.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	saved, err := h.svc.Settings.Save(ctx, req.Merge(current))
	if err != nil {
		return nil, err
	}

	h.svc.Logger.Info(ctx, "save_settings", "Settings updated", map[string]interface{}{
		"max_per_page":      saved.MaxPerPage,
		"max_bulk_rows":     saved.MaxBulkRows,
		"backup_retention":  saved.BackupRetention,
		"auto_cleanup_days": saved.AutoCleanupDays,
	})
	return saved, nil
}

func (h *AdminHandlers) logs(r *http.Request, body []byte) (interface{}, error) {
	var req request.Logs
	if err := bind(body, &req); err != nil {
		return nil, err
	}
	return h.svc.Logger.Recent(r.Context(), req.Limit, req.LevelFilter())
}

func (h *AdminHandlers) cleanup(r *http.Request, _ []byte) (interface{}, error) {
	return h.svc.Maintenance.RunOnce(r.Context())
}
