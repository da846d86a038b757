package pgstore

import "context"

// Exec runs a raw statement. Test-only.
func (s *Store) Exec(ctx context.Context, sql string) error {
	_, err := s.pool.Exec(ctx, sql)
	return err
}
