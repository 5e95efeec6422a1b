package zfs

// argument shapes of every command issued to the backing tool

const tool = "zfs"

func ListCmd() []string {
	return []string{tool, "list", "-H", "-t", "all", "-o", "name,mountpoint"}
}

func SnapshotCmd(fs string, snap string) []string {
	return []string{tool, "snapshot", "-r", fs + "@" + snap}
}

func DestroyCmd(fs string, snap string) []string {
	return []string{tool, "destroy", fs + "@" + snap}
}

func GetPropertiesCmd(fs string) []string {
	return []string{tool, "get", "-H", "-p", "-o", "name,property,value,source", "all", fs}
}

func CreateCmd(fs string, props []Property) []string {
	args := []string{tool, "create"}
	for _, prop := range props {
		args = append(args, "-o", prop.Name+"="+prop.Value)
	}

	return append(args, fs)
}

// SendRange is either a full stream of To, or an incremental stream covering
// every snapshot from From (exclusive) up to To.
type SendRange struct {
	Filesystem string
	From       string // "" => full stream
	To         string
}

func FullRange(fs string, to string) SendRange {
	return SendRange{Filesystem: fs, To: to}
}

func IncrementalRange(fs string, from string, to string) SendRange {
	return SendRange{Filesystem: fs, From: from, To: to}
}

func (s SendRange) Incremental() bool {
	return s.From != ""
}

func (s SendRange) String() string {
	if s.Incremental() {
		return s.Filesystem + "@" + s.From + ".." + s.To
	}

	return s.Filesystem + "@" + s.To
}

func (s SendRange) args(extra ...string) []string {
	args := append([]string{tool, "send"}, extra...)
	if s.Incremental() {
		args = append(args, "-I", "@"+s.From)
	}

	return append(args, s.Filesystem+"@"+s.To)
}

// dry-run with parsable output, used for the size estimate
func SendEstimateCmd(r SendRange) []string {
	return r.args("-nP")
}

func SendCmd(r SendRange) []string {
	return r.args()
}

// forced (rolls back conflicting state) and unmounted
func ReceiveCmd(dest string) []string {
	return []string{tool, "receive", "-F", "-u", dest}
}
