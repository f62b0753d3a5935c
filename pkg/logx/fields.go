package logx

// Keys shared by the broadcast and reply paths, so one cycle can be followed across sinks.
const (
	KeyCycle = "cycle"
	KeyRun   = "run"
	KeyItem  = "id"
	KeyChat  = "chat_id"
	KeyRef   = "ref"
)

// pinnedKeys lead the chat sink summary in this order; other keys follow sorted.
var pinnedKeys = []string{KeyCycle, KeyRun, KeyItem}

func Cycle(id uint64) Field      { return Uint64(KeyCycle, id) }
func Run(id string) Field        { return String(KeyRun, id) }
func Item(key string) Field      { return String(KeyItem, key) }
func Chat(id int64) Field        { return Int64(KeyChat, id) }
func Ref(sourceURL string) Field { return String(KeyRef, sourceURL) }
