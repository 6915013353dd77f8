package store

import (
	"context"
	"fmt"
	"log"
)

// Bootstrap creates the schema-store tables and makes sure the super-admin
// role exists so that a fresh install has someone who can see every page.
func (s *Store) Bootstrap(ctx context.Context, superAdminRole string) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if superAdminRole == "" {
		return nil
	}
	if err := s.seedSuperAdminRole(ctx, superAdminRole); err != nil {
		return fmt.Errorf("seed super-admin role: %w", err)
	}
	return nil
}

func (s *Store) seedSuperAdminRole(ctx context.Context, code string) error {
	var count int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _roles WHERE upper(role_code) = upper("+s.Dialect.Placeholder(1)+")", code,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _roles (role_code, role_name) VALUES (%s, %s)", pb.Add(code), pb.Add("Administrator"))
	if _, err := s.DB.ExecContext(ctx, sql, pb.Params()...); err != nil {
		return err
	}
	log.Printf("Super-admin role %s created", code)
	return nil
}
