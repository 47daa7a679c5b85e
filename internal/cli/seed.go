package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/service"
)

// SeedFile is the fixture format read by the seed command.
type SeedFile struct {
	Users    []SeedUser    `yaml:"users"`
	Products []SeedProduct `yaml:"products"`
}

type SeedUser struct {
	Username string      `yaml:"username"`
	Password string      `yaml:"password"`
	Role     models.Role `yaml:"role"`
	Approved bool        `yaml:"approved"`
}

type SeedProduct struct {
	Merchant string `yaml:"merchant"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Stock    int    `yaml:"stock"`
}

func ParseSeed(r io.Reader) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	for i, u := range f.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("parse seed: users[%d]: username and password are required", i)
		}
		if u.Role == models.RoleAdministrator {
			return nil, fmt.Errorf("parse seed: users[%d]: administrators are created with bootstrap-admin", i)
		}
	}
	for i, p := range f.Products {
		if p.Merchant == "" {
			return nil, fmt.Errorf("parse seed: products[%d]: merchant is required", i)
		}
		if _, err := decimal.NewFromString(p.Price); err != nil {
			return nil, fmt.Errorf("parse seed: products[%d]: price %q: %w", i, p.Price, err)
		}
	}
	return &f, nil
}

type seedResult struct {
	UsersCreated    int
	UsersSkipped    int
	ProductsCreated int
	ProductsSkipped int
}

// apply loads f through the services. Existing usernames and products a
// merchant already lists under the same name are skipped, so reseeding is
// harmless.
func (s *stack) seed(ctx context.Context, adminName string, f *SeedFile) (seedResult, error) {
	var res seedResult

	admin, err := s.adminActor(ctx, adminName)
	if err != nil {
		return res, err
	}

	for _, u := range f.Users {
		user, err := s.identity.Register(ctx, u.Username, u.Password, u.Role)
		if errors.Is(err, service.ErrDuplicateUsername) {
			res.UsersSkipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed user %q: %w", u.Username, err)
		}
		if u.Approved {
			if _, err := s.identity.SetApproved(ctx, admin, user.ID, true); err != nil {
				return res, fmt.Errorf("approve %q: %w", u.Username, err)
			}
		}
		res.UsersCreated++
	}

	for _, p := range f.Products {
		merchant, err := s.identity.ResolveActorByUsername(ctx, p.Merchant)
		if err != nil {
			return res, fmt.Errorf("seed product %q: merchant %q: %w", p.Name, p.Merchant, err)
		}
		mine, err := s.catalog.ListMine(ctx, merchant)
		if err != nil {
			return res, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
		if hasProduct(mine, p.Name) {
			res.ProductsSkipped++
			continue
		}

		_, err = s.catalog.Create(ctx, merchant, service.ProductInput{
			Name:  p.Name,
			Price: decimal.RequireFromString(p.Price),
			Stock: p.Stock,
		})
		if err != nil {
			return res, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
		res.ProductsCreated++
	}
	return res, nil
}

func hasProduct(items []models.Product, name string) bool {
	for _, it := range items {
		if it.Name == name {
			return true
		}
	}
	return false
}

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load users and products from a YAML fixture",
		Long: `Seed registers the users and products listed in a YAML file.

Users marked approved are approved by the administrator given with --as.
Products are created by their merchant, who must be approved. Entries that
already exist are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if err := requireDB(cfg); err != nil {
				return err
			}
			if as == "" {
				as = cfg.AdminUsername
			}

			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()
			f, err := ParseSeed(fh)
			if err != nil {
				return err
			}

			l := newLogger(cfg, cmd.ErrOrStderr())
			ctx := withLogger(cmd.Context(), l)
			st, err := openStack(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.seed(ctx, as, f)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "users: %d created, %d skipped\nproducts: %d created, %d skipped\n",
				res.UsersCreated, res.UsersSkipped, res.ProductsCreated, res.ProductsSkipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "administrator approving seeded users, default $ADMIN_USERNAME")
	return cmd
}
