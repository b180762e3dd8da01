package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/models"
)

func (a *App) cmdAuth(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: auth <backend>")
	}
	prov, err := a.core.Registry().Resolve(args[0])
	if err != nil {
		return err
	}

	ok, err := prov.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", args[0], err)
	}
	if !ok {
		return fmt.Errorf("authentication for %s did not complete", args[0])
	}
	fmt.Fprintf(a.out, "Signed in to %s\n", prov.DisplayName())
	return nil
}

func (a *App) cmdSignOut(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: signout <backend>")
	}
	prov, err := a.core.Registry().Resolve(args[0])
	if err != nil {
		return err
	}
	if err := prov.SignOut(); err != nil {
		return fmt.Errorf("sign out %s: %w", args[0], err)
	}
	fmt.Fprintf(a.out, "Signed out of %s\n", prov.DisplayName())
	return nil
}

func (a *App) cmdBackend(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		backend, err := a.core.Settings().SelectedBackend(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, backend)
		return nil
	case 1:
		id := args[0]
		if id != common.BackendNone {
			if _, err := a.core.Registry().Resolve(id); err != nil {
				return err
			}
		}
		if err := a.core.Settings().SetSelectedBackend(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Selected backend: %s\n", id)
		return nil
	default:
		return fmt.Errorf("usage: backend [<id>]")
	}
}

func (a *App) cmdBackends(ctx context.Context) error {
	for _, id := range a.core.Registry().IDs() {
		prov, err := a.core.Registry().Resolve(id)
		if err != nil {
			return err
		}
		state := "signed out"
		if prov.IsAuthenticated() {
			state = "signed in"
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", id, prov.DisplayName(), state)
	}
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	tasks, err := a.core.Tasks().GetAll(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(a.out, "Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tBACKEND\tSTATUS\tPROGRESS\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.FileName, t.BackendID, t.Status, formatProgress(t), t.ErrorMessage)
	}
	return w.Flush()
}

func formatProgress(t *models.UploadTask) string {
	if t.TotalBytes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d%% (%d/%d)", t.UploadedBytes*100/t.TotalBytes, t.UploadedBytes, t.TotalBytes)
}

func (a *App) cmdCancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel <task-id>")
	}
	if err := a.core.Scheduler().Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cancelled %s\n", args[0])
	return nil
}
