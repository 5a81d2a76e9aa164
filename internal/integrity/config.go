// Package integrity holds every tunable threshold, weight and cap used to
// reconstruct watched time and score viewing behaviour. The weights are
// tunable constants, not a fitted statistical model.
package integrity

import "time"

type Config struct {
	Progress ProgressConfig
	Fraud    FraudConfig
	Grade    GradeConfig
}

type ProgressConfig struct {
	MergeGapSeconds    float64 // segments closer than this are coalesced
	MinSegmentSeconds  float64
	ExpectedSegments   int
	ShortSegmentSecond float64

	RapidSeekWindow    time.Duration
	RapidSeekMinCount  int
	RapidSeekPoints    float64
	RapidSeekCap       float64
	LargeJumpSeconds   float64
	LargeJumpMaxPoints float64
	LargeJumpCap       float64
	ToggleThreshold    int
	TogglePoints       float64
	ToggleCap          float64
	InvisibleRatio     float64
	InvisibleCap       float64

	FragmentationPointsPerSegment float64
	FragmentationCap              float64
	IncompleteRatio               float64
	IncompleteMaxPenalty          float64
}

type FraudConfig struct {
	// single event
	MaxClockDrift      time.Duration
	ClockDriftPoints   float64
	NegativeTimePoints float64
	MaxPlaybackRate    float64
	PlaybackRatePoints float64
	VolumePoints       float64
	MaxSeekDistance    float64
	SeekDistancePoints float64
	EventRejectRisk    float64 // single events scoring at or above this are invalid

	// event sequence
	SequenceMaxSpeed        float64
	SequenceSpeedPoints     float64
	SequenceSeekRatio       float64
	SequenceSeekPoints      float64
	RapidFireWindow         time.Duration
	RapidFireCount          int
	RapidFirePoints         float64
	MissingHeartbeatPoints  float64
	VisibilitySpoofMinCount int
	VisibilitySpoofPoints   float64

	// seek pattern
	SeekRatio           float64
	SeekRatioPoints     float64
	LongSeekSeconds     float64
	LongSeekMinCount    int
	LongSeekPoints      float64
	ForwardSeekRatio    float64
	ForwardSeekMinCount int
	ForwardSeekPoints   float64
	RapidSeekWindow     time.Duration
	RapidSeekMinCount   int
	RapidSeekPoints     float64
	SeekSuspicionLimit  float64
	SeekSuspicionPoints float64

	// timestamps
	BackwardToleranceSeconds float64
	BackwardPoints           float64
	TimestampMaxSpeed        float64
	TimestampSpeedPoints     float64
	MaxServerDrift           time.Duration
	ServerDriftPoints        float64
	MaxDuplicateTimestamps   int
	DuplicatePoints          float64

	// reliability
	LowReliabilityScore  float64
	ReliabilityNoHistory float64

	// real-time monitor
	RealTimeWindow          int // most recent events considered
	RealTimeSeekWindow      time.Duration
	RealTimeSeekCount       int
	RealTimeMaxSpeed        float64
	AutomationVarianceLimit float64 // ms^2
	AutomationMinEvents     int
	WarningAutomation       float64
	CriticalAutomation      float64

	// comprehensive weights
	ConcurrentWeight   float64
	EventWeight        float64
	SequenceWeight     float64
	SeekWeight         float64
	TimestampWeight    float64
	LowReliabilityRisk float64
	InfoRisk           float64
	WarningRisk        float64
	CriticalRisk       float64

	AlertThreshold float64 // risk above this flags the user
	InvalidRisk    float64 // comprehensive risk above this marks the batch invalid
}

type GradeConfig struct {
	SuspiciousPointsPerCount float64
	SuspiciousCap            float64
	RiskFactor               float64
	RiskCap                  float64
	DefaultRequiredPercent   float64
}

func DefaultConfig() Config {
	return Config{
		Progress: ProgressConfig{
			MergeGapSeconds:    2,
			MinSegmentSeconds:  0.1,
			ExpectedSegments:   5,
			ShortSegmentSecond: 10,

			RapidSeekWindow:    10 * time.Second,
			RapidSeekMinCount:  3,
			RapidSeekPoints:    2,
			RapidSeekCap:       30,
			LargeJumpSeconds:   30,
			LargeJumpMaxPoints: 10,
			LargeJumpCap:       25,
			ToggleThreshold:    20,
			TogglePoints:       0.5,
			ToggleCap:          15,
			InvisibleRatio:     0.3,
			InvisibleCap:       25,

			FragmentationPointsPerSegment: 2,
			FragmentationCap:              20,
			IncompleteRatio:               0.8,
			IncompleteMaxPenalty:          50,
		},
		Fraud: FraudConfig{
			MaxClockDrift:      5 * time.Minute,
			ClockDriftPoints:   20,
			NegativeTimePoints: 30,
			MaxPlaybackRate:    16,
			PlaybackRatePoints: 15,
			VolumePoints:       5,
			MaxSeekDistance:    300,
			SeekDistancePoints: 10,
			EventRejectRisk:    30,

			SequenceMaxSpeed:        20,
			SequenceSpeedPoints:     25,
			SequenceSeekRatio:       0.5,
			SequenceSeekPoints:      20,
			RapidFireWindow:         time.Second,
			RapidFireCount:          6,
			RapidFirePoints:         15,
			MissingHeartbeatPoints:  30,
			VisibilitySpoofMinCount: 10,
			VisibilitySpoofPoints:   10,

			SeekRatio:           0.4,
			SeekRatioPoints:     25,
			LongSeekSeconds:     60,
			LongSeekMinCount:    3,
			LongSeekPoints:      20,
			ForwardSeekRatio:    0.8,
			ForwardSeekMinCount: 3,
			ForwardSeekPoints:   15,
			RapidSeekWindow:     3 * time.Second,
			RapidSeekMinCount:   6,
			RapidSeekPoints:     20,
			SeekSuspicionLimit:  70,
			SeekSuspicionPoints: 30,

			BackwardToleranceSeconds: 5,
			BackwardPoints:           15,
			TimestampMaxSpeed:        10,
			TimestampSpeedPoints:     25,
			MaxServerDrift:           10 * time.Minute,
			ServerDriftPoints:        10,
			MaxDuplicateTimestamps:   2,
			DuplicatePoints:          20,

			LowReliabilityScore:  30,
			ReliabilityNoHistory: 50,

			RealTimeWindow:          50,
			RealTimeSeekWindow:      2 * time.Second,
			RealTimeSeekCount:       5,
			RealTimeMaxSpeed:        10,
			AutomationVarianceLimit: 100,
			AutomationMinEvents:     20,
			WarningAutomation:       50,
			CriticalAutomation:      70,

			ConcurrentWeight:   30,
			EventWeight:        0.4,
			SequenceWeight:     0.7,
			SeekWeight:         0.5,
			TimestampWeight:    0.6,
			LowReliabilityRisk: 20,
			InfoRisk:           5,
			WarningRisk:        15,
			CriticalRisk:       25,

			AlertThreshold: 70,
			InvalidRisk:    50,
		},
		Grade: GradeConfig{
			SuspiciousPointsPerCount: 2,
			SuspiciousCap:            20,
			RiskFactor:               0.3,
			RiskCap:                  30,
			DefaultRequiredPercent:   80,
		},
	}
}
