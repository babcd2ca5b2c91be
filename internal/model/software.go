package model

import "time"

// SoftwareType classifies an installed program.
type SoftwareType string

const (
	SoftwareCracker   SoftwareType = "cracker"
	SoftwareScanner   SoftwareType = "scanner"
	SoftwareFirewall  SoftwareType = "firewall"
	SoftwareVirus     SoftwareType = "virus"
	SoftwareAntivirus SoftwareType = "antivirus"
	SoftwareLogEditor SoftwareType = "log_editor"
	SoftwareFTP       SoftwareType = "ftp"
)

// Software is a program resident on exactly one server.
type Software struct {
	ID       int64
	OwnerID  int64
	ServerID int64
	Type     SoftwareType
	Name     string
	Version  int

	InstalledAt   time.Time
	LastCollected time.Time // viruses only; zero until first collection

	SizeMB        float64
	Effectiveness int
	Stealth       int
	Reliability   int

	MinCPU float64
	MinRAM float64

	Hidden bool

	// YieldPerHour is minor units accrued per hour for installed viruses.
	YieldPerHour int64
}

// YieldAccrued returns the minor units a virus has earned since its
// last collection (or install, if never collected). Zero for software
// without a yield.
func (s *Software) YieldAccrued(now time.Time) int64 {
	if s.YieldPerHour <= 0 {
		return 0
	}
	basis := s.LastCollected
	if basis.IsZero() {
		basis = s.InstalledAt
	}
	if basis.IsZero() || !now.After(basis) {
		return 0
	}
	return int64(now.Sub(basis).Hours() * float64(s.YieldPerHour))
}

// RunnableOn reports whether the host meets the software's requirements.
func (s *Software) RunnableOn(srv *Server) bool {
	return s.MinCPU <= srv.CPUTotal && s.MinRAM <= srv.RAMTotal
}
