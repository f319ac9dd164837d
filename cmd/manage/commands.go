package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/princekumarofficial/channel-media-service/internal/config"
	"github.com/princekumarofficial/channel-media-service/internal/services/objectstore"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/storage/postgres"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/utils/password"
)

// openUsers is swapped in tests.
var openUsers = func(ctx context.Context) (storage.UserStore, func(), error) {
	cfg := config.MustLoad()
	if cfg.StorageDriver == "memory" {
		return nil, nil, errors.New("manage needs the postgres storage driver")
	}
	pg, err := postgres.NewPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "manage",
		Short:         "Administer the channel media service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCreateAdminCmd(), newListUsersCmd(), newDeleteUserCmd(), newListObjectsCmd(), newStatObjectCmd())
	return root
}

func withUsers(cmd *cobra.Command, fn func(ctx context.Context, store storage.UserStore) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openUsers(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store)
}

func newCreateAdminCmd() *cobra.Command {
	var noAdmin bool
	cmd := &cobra.Command{
		Use:   "create-admin <username> <password>",
		Short: "Create a user, an admin unless --no-admin is given",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(cmd, func(ctx context.Context, store storage.UserStore) error {
				return createUser(ctx, store, cmd.OutOrStdout(), args[0], args[1], !noAdmin)
			})
		},
	}
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "create a regular user")
	return cmd
}

func newListUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUsers(cmd, func(ctx context.Context, store storage.UserStore) error {
				return listUsers(ctx, store, cmd.OutOrStdout())
			})
		},
	}
}

func newDeleteUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(cmd, func(ctx context.Context, store storage.UserStore) error {
				return deleteUser(ctx, store, cmd.OutOrStdout(), args[0])
			})
		},
	}
}

func createUser(ctx context.Context, store storage.UserStore, out io.Writer, username, pass string, admin bool) error {
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters")
	}
	if len(pass) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	hash, err := password.HashPassword(pass)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u, err := store.CreateUser(ctx, username, hash, admin)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return fmt.Errorf("user %s already exists", username)
	}
	if err != nil {
		return err
	}
	role := "user"
	if u.IsAdmin {
		role = "admin"
	}
	fmt.Fprintf(out, "Created %s %s (id %d)\n", role, u.Username, u.ID)
	return nil
}

func listUsers(ctx context.Context, store storage.UserStore, out io.Writer) error {
	list, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No users")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tADMIN\tCREATED")
	for _, u := range list {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", u.ID, u.Username, u.IsAdmin, u.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func deleteUser(ctx context.Context, store storage.UserStore, out io.Writer, username string) error {
	if err := store.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("user %s not found", username)
		}
		return err
	}
	fmt.Fprintf(out, "Deleted %s\n", username)
	return nil
}

func openObjects(cmd *cobra.Command) (*objectstore.Service, error) {
	return objectstore.NewService(cmd.Context(), config.MustLoad())
}

func newListObjectsCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list-objects",
		Short: "List stored media objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := []types.MediaKind{types.MediaKindAudio, types.MediaKindPDF}
			if kind != "" {
				k := types.MediaKind(kind)
				if k != types.MediaKindAudio && k != types.MediaKindPDF {
					return fmt.Errorf("unknown media type %q", kind)
				}
				kinds = []types.MediaKind{k}
			}
			objects, err := openObjects(cmd)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, k := range kinds {
				bucket, _ := objects.Bucket(k)
				infos, err := objects.ListObjects(cmd.Context(), k)
				if err != nil {
					return fmt.Errorf("list %s: %w", k, err)
				}
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", objectstore.JoinKey(bucket, info.Key), info.Size, info.LastModified.Format(time.RFC3339))
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "audio or pdf")
	return cmd
}

func newStatObjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat-object <key>",
		Short: "Show one stored object by its s3_key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := openObjects(cmd)
			if err != nil {
				return err
			}
			info, err := objects.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:           %s\n", args[0])
			fmt.Fprintf(out, "size:          %d\n", info.Size)
			fmt.Fprintf(out, "content-type:  %s\n", info.ContentType)
			fmt.Fprintf(out, "last-modified: %s\n", info.LastModified.Format(time.RFC3339))
			return nil
		},
	}
}
