package segmap

import "errors"

// Close releases every segment and closes the backing file. It does not
// flush. Close is idempotent.
func (s *Store) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.mapper != nil {
		if err := s.mapper.ReleaseAll(); err != nil {
			errs = append(errs, err)
		}
		s.mapper = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
		s.file = nil
	}
	return opError("close", s.path, errors.Join(errs...))
}
