package strikes

import (
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/models"
)

// Offense is one entry of the static offense catalog
type Offense struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Role       models.Role `json:"role"`
	Level      int         `json:"level"`
	Resolution string      `json:"resolution"`
}

// ClientOffenses can only be issued against clients
var ClientOffenses = []Offense{
	{Type: "unresponsive", Name: "Unresponsive to finder", Role: models.RoleClient, Level: 1,
		Resolution: "Respond to finder messages within 48 hours"},
	{Type: "spam_postings", Name: "Spam or duplicate finds", Role: models.RoleClient, Level: 1,
		Resolution: "Remove duplicate finds and post one request per need"},
	{Type: "misleading_find", Name: "Posting misleading finds", Role: models.RoleClient, Level: 2,
		Resolution: "Edit finds so the description matches the actual request"},
	{Type: "off_platform_payment", Name: "Requesting off-platform payment", Role: models.RoleClient, Level: 2,
		Resolution: "Keep all payments inside FinderMeister escrow"},
	{Type: "unfair_rejection", Name: "Repeated unfair work rejections", Role: models.RoleClient, Level: 2,
		Resolution: "Give specific feedback when rejecting a submission"},
	{Type: "harassment", Name: "Harassment of finders", Role: models.RoleClient, Level: 3,
		Resolution: "Complete the communication training before posting again"},
	{Type: "non_payment", Name: "Refusing payment for approved work", Role: models.RoleClient, Level: 3,
		Resolution: "Release escrow for work you have accepted"},
	{Type: "fraud", Name: "Fraudulent activity", Role: models.RoleClient, Level: 4,
		Resolution: "Account closed permanently"},
}

// FinderOffenses can only be issued against finders
var FinderOffenses = []Offense{
	{Type: "late_delivery", Name: "Late delivery", Role: models.RoleFinder, Level: 1,
		Resolution: "Agree realistic timelines and tell clients early about delays"},
	{Type: "poor_communication", Name: "Poor communication", Role: models.RoleFinder, Level: 1,
		Resolution: "Reply to client messages within 24 hours"},
	{Type: "repeated_no_shows", Name: "Repeated no-shows", Role: models.RoleFinder, Level: 2,
		Resolution: "Only accept work you can attend and complete the communication training"},
	{Type: "off_platform_payment", Name: "Requesting off-platform payment", Role: models.RoleFinder, Level: 2,
		Resolution: "Keep all payments inside FinderMeister escrow"},
	{Type: "low_quality_work", Name: "Repeated low quality submissions", Role: models.RoleFinder, Level: 2,
		Resolution: "Review the find requirements before submitting work"},
	{Type: "plagiarism", Name: "Submitting plagiarized work", Role: models.RoleFinder, Level: 3,
		Resolution: "Submit only original work"},
	{Type: "harassment", Name: "Harassment of clients", Role: models.RoleFinder, Level: 3,
		Resolution: "Complete the communication training before applying again"},
	{Type: "fraud", Name: "Fraudulent activity", Role: models.RoleFinder, Level: 4,
		Resolution: "Account closed permanently"},
}

// OffensesForRole returns the catalog for role, or nil for roles that
// cannot receive strikes
func OffensesForRole(role models.Role) []Offense {
	switch role {
	case models.RoleClient:
		return ClientOffenses
	case models.RoleFinder:
		return FinderOffenses
	}
	return nil
}

// FindOffense looks offense up by type slug or display name, case-insensitively,
// within role's catalog only
func FindOffense(offense string, role models.Role) (Offense, bool) {
	key := strings.TrimSpace(offense)
	for _, o := range OffensesForRole(role) {
		if strings.EqualFold(o.Type, key) || strings.EqualFold(o.Name, key) {
			return o, true
		}
	}
	return Offense{}, false
}
