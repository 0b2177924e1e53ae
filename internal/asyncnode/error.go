package asyncnode

type _error string

const (
	Missing         _error = "missing"
	NoMatchingImage _error = "no matching image"
	MissingPeerAddr _error = "missing peer address"
	UnknownRole     _error = "unknown role"
	InvalidOutputs  _error = "invalid outputs"
)

func (e _error) Error() string {
	return string(e)
}
