package machines

import (
	"errors"
	"strings"
)

func (s *Service) validate(m Machine) error {
	if strings.TrimSpace(m.Code) == "" {
		return errors.New("machine code is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("machine name is required")
	}
	return nil
}
