package tasks

// Op is one mutation intent. The set of implementations is closed: only the
// eight kinds in this file satisfy it.
type Op interface {
	Kind() Kind
	isOp()
}

type Kind string

const (
	KindInsLiveTask         Kind = "InsLiveTask"
	KindEditLiveTask        Kind = "EditLiveTask"
	KindDelLiveTask         Kind = "DelLiveTask"
	KindFinishLiveTask      Kind = "FinishLiveTask"
	KindRestoreFinishedTask Kind = "RestoreFinishedTask"
	KindMvLiveTask          Kind = "MvLiveTask"
	KindRevLiveTask         Kind = "RevLiveTask"
	KindOverwriteState      Kind = "OverwriteState"
)

type InsLiveTask struct {
	ID       string `json:"id"`
	Value    string `json:"value"`
	Deadline *int64 `json:"deadline"`
}

type EditLiveTask struct {
	ID       string `json:"id"`
	Value    string `json:"value"`
	Deadline *int64 `json:"deadline"`
}

type DelLiveTask struct {
	ID string `json:"id"`
}

type FinishLiveTask struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

type RestoreFinishedTask struct {
	ID string `json:"id"`
}

// MvLiveTask moves the task IDDel to the index currently held by IDIns.
type MvLiveTask struct {
	IDDel string `json:"id_del"`
	IDIns string `json:"id_ins"`
}

// RevLiveTask reverses the inclusive range of live tasks between ID1 and ID2.
type RevLiveTask struct {
	ID1 string `json:"id1"`
	ID2 string `json:"id2"`
}

type OverwriteState struct {
	Snapshot Snapshot `json:"snapshot"`
}

func (InsLiveTask) Kind() Kind         { return KindInsLiveTask }
func (EditLiveTask) Kind() Kind        { return KindEditLiveTask }
func (DelLiveTask) Kind() Kind         { return KindDelLiveTask }
func (FinishLiveTask) Kind() Kind      { return KindFinishLiveTask }
func (RestoreFinishedTask) Kind() Kind { return KindRestoreFinishedTask }
func (MvLiveTask) Kind() Kind          { return KindMvLiveTask }
func (RevLiveTask) Kind() Kind         { return KindRevLiveTask }
func (OverwriteState) Kind() Kind      { return KindOverwriteState }

func (InsLiveTask) isOp()         {}
func (EditLiveTask) isOp()        {}
func (DelLiveTask) isOp()         {}
func (FinishLiveTask) isOp()      {}
func (RestoreFinishedTask) isOp() {}
func (MvLiveTask) isOp()          {}
func (RevLiveTask) isOp()         {}
func (OverwriteState) isOp()      {}

// Envelope wraps an Op with the client's claimed wall-clock time in
// milliseconds. AllegedTime is advisory and never used for ordering.
type Envelope struct {
	AllegedTime int64
	Op          Op
}
