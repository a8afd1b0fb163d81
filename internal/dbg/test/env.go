package test

// FakeEnv is a scripted permission environment.
type FakeEnv struct {
	SIP      bool
	DevMode  bool
	Entitled bool

	Queries int
}

func (e *FakeEnv) SIPEnabled() (bool, error) {
	e.Queries++
	return e.SIP, nil
}

func (e *FakeEnv) DeveloperModeEnabled() (bool, error) {
	e.Queries++
	return e.DevMode, nil
}

func (e *FakeEnv) HasDebugEntitlement() (bool, error) {
	e.Queries++
	return e.Entitled, nil
}
