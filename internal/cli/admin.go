package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if err := requireDB(cfg); err != nil {
				return err
			}
			l := newLogger(cfg, cmd.ErrOrStderr())

			st, err := openStack(withLogger(cmd.Context(), l), cfg, l)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// NewBootstrapAdminCommand creates the reserved administrator account. It is
// the only way an administrator comes into existence.
func NewBootstrapAdminCommand(opts *RootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the administrator account if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if err := requireDB(cfg); err != nil {
				return err
			}
			if username == "" {
				username = cfg.AdminUsername
			}
			if password == "" {
				password = cfg.AdminPassword
			}
			if password == "" {
				return fmt.Errorf("admin password is required (--password or ADMIN_PASSWORD)")
			}
			l := newLogger(cfg, cmd.ErrOrStderr())
			ctx := withLogger(cmd.Context(), l)

			st, err := openStack(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer st.Close()

			created, err := st.identity.BootstrapAdmin(ctx, username, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "administrator %q created\n", username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "administrator %q already exists\n", username)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "administrator username, default $ADMIN_USERNAME")
	cmd.Flags().StringVar(&password, "password", "", "administrator password, default $ADMIN_PASSWORD")
	return cmd
}

// NewPurgeOrdersCommand removes orders whose buyer no longer exists.
func NewPurgeOrdersCommand(opts *RootOptions) *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "purge-orders",
		Short: "Delete orders left behind by deleted users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if err := requireDB(cfg); err != nil {
				return err
			}
			if as == "" {
				as = cfg.AdminUsername
			}
			l := newLogger(cfg, cmd.ErrOrStderr())
			ctx := withLogger(cmd.Context(), l)

			st, err := openStack(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer st.Close()

			admin, err := st.adminActor(ctx, as)
			if err != nil {
				return err
			}
			n, err := st.orders.PurgeOrphaned(ctx, admin)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned orders\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "administrator to act as, default $ADMIN_USERNAME")
	return cmd
}
