package npi

// Outcome is the discriminator of a Result.
type Outcome int

const (
	OutcomeNotFound Outcome = iota + 1
	OutcomeInactive
	OutcomeFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInactive:
		return "inactive"
	case OutcomeFound:
		return "found"
	default:
		return "unknown"
	}
}

// Result is the normalized answer for one number.
// EnumerationType, FirstName and LastName are only meaningful for OutcomeFound.
type Result struct {
	Outcome         Outcome
	Number          string
	EnumerationType string
	FirstName       *string
	LastName        *string
}

func NotFound(number string) Result {
	return Result{Outcome: OutcomeNotFound, Number: number}
}

func Inactive(number string) Result {
	return Result{Outcome: OutcomeInactive, Number: number}
}

func Found(number, enumerationType string, firstName, lastName *string) Result {
	return Result{
		Outcome:         OutcomeFound,
		Number:          number,
		EnumerationType: enumerationType,
		FirstName:       firstName,
		LastName:        lastName,
	}
}
