package store

// DefaultStore is the package-level Store used by the CLI's scenario
// subcommands, mirroring phenix/store/package.go's package-level default
// instance.
var DefaultStore Store = NewBoltDB()

func Init(opts ...Option) error {
	return DefaultStore.Init(opts...)
}

func Close() error {
	return DefaultStore.Close()
}

func List() ([]Scenario, error) {
	return DefaultStore.List()
}

func Get(name string) (Scenario, error) {
	return DefaultStore.Get(name)
}

func Create(s Scenario) error {
	return DefaultStore.Create(s)
}

func Update(s Scenario) error {
	return DefaultStore.Update(s)
}

func Delete(name string) error {
	return DefaultStore.Delete(name)
}
