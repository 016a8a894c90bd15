package workflow

// PostJobRequest creates a job.
type PostJobRequest struct {
	Flags      uint64 `json:"flags" validate:"required"`
	Area       uint64 `json:"area" validate:"required"`
	Category   uint64 `json:"category" validate:"required"`
	Skills     uint64 `json:"skills" validate:"required"`
	DefaultPay int64  `json:"default_pay" validate:"required,gt=0"`
	Details    string `json:"details" validate:"required,max=2000"`
}

// PostOfferRequest bids on a job.
type PostOfferRequest struct {
	Token    string `json:"token" validate:"required,max=16"`
	Rate     int64  `json:"rate" validate:"required,gt=0"`
	Estimate int64  `json:"estimate" validate:"gte=0"`
	OnTop    int64  `json:"on_top" validate:"gte=0"`
}

// AcceptOfferRequest binds a worker's offer to the job.
type AcceptOfferRequest struct {
	Worker int64 `json:"worker" validate:"required,gt=0"`
}

// AddTimeRequest extends a started job's estimate.
type AddTimeRequest struct {
	Minutes int64 `json:"minutes" validate:"required,gt=0"`
}
