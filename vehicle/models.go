package vehicle

import "time"

// Vehicle is a car registered by a driver. Brand is stored as entered;
// BrandID links to the curated brands list when the name matched.
type Vehicle struct {
	ID                    string
	UserID                string
	Brand                 string
	BrandID               *string
	Model                 string
	Color                 string
	LicensePlate          string
	Seats                 int
	EnergyType            *string
	FirstRegistrationDate *time.Time
	CreatedAt             time.Time
}

// Brand is an entry in the curated brand list.
type Brand struct {
	ID   string
	Name string
}

// Preferences are the driver's standing ride rules, shown on every ride
// they publish.
type Preferences struct {
	ID                string
	UserID            string
	SmokingAllowed    bool
	PetsAllowed       bool
	CustomPreferences []string
	CreatedAt         time.Time
}

// Electric reports whether the vehicle counts as an ecological ride.
func (v Vehicle) Electric() bool {
	return v.EnergyType != nil && *v.EnergyType == "electric"
}
