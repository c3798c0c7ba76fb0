package db

import (
	"pobbin/pkg/domain"
	"pobbin/svc/util"
)

// ToPath maps a paste id onto its storage key. Anything outside the id
// alphabet is rejected so a key can never escape the pastes/ namespace.
func ToPath(id string) (string, error) {
	switch {
	case id == "":
		return "", domain.BadRequest(domain.StageMapPath, "paste id is empty")
	case len(id) > domain.MaxIDLength:
		return "", domain.BadRequest(domain.StageMapPath, "paste id is too long")
	case !util.ValidID(id):
		return "", domain.BadRequest(domain.StageMapPath, "paste id contains invalid characters")
	}
	return domain.KeyPrefix + id, nil
}
