package version

// Values injected at build time via -ldflags.
var (
	ver    = "0.0.0"
	commit = ""
	date   = ""
)

type Info struct {
	Version string
	Commit  string
	Date    string
}

func GetInfo() Info {
	return Info{
		Version: ver,
		Commit:  commit,
		Date:    date,
	}
}
