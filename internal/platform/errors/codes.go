package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Energy ledger errors
	CodeEnergyInvalidAmount      Code = "ENERGY_INVALID_AMOUNT"
	CodeEnergyInvalidCapacity    Code = "ENERGY_INVALID_CAPACITY"
	CodeEnergyInsufficient       Code = "ENERGY_INSUFFICIENT"
	CodeEnergyContentionExceeded Code = "ENERGY_CONTENTION_EXCEEDED"

	// Distributed lock errors
	CodeLockUnavailable Code = "LOCK_UNAVAILABLE"

	// Cooldown errors
	CodeCooldownInvalidDuration Code = "COOLDOWN_INVALID_DURATION"

	// Market errors
	CodeMarketUnknownEvent       Code = "MARKET_UNKNOWN_EVENT"
	CodeMarketInvalidVolume      Code = "MARKET_INVALID_VOLUME"
	CodeMarketInvalidDefinition  Code = "MARKET_INVALID_DEFINITION"
	CodeMarketContentionExceeded Code = "MARKET_CONTENTION_EXCEEDED"

	// Encounter errors
	CodeEncounterInvalidSpawn  Code = "ENCOUNTER_INVALID_SPAWN"
	CodeEncounterInvalidDamage Code = "ENCOUNTER_INVALID_DAMAGE"
	CodeEncounterNotActive     Code = "ENCOUNTER_NOT_ACTIVE"
	CodeEncounterExpired       Code = "ENCOUNTER_EXPIRED"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEnergyInvalidAmount,
		CodeEnergyInvalidCapacity,
		CodeCooldownInvalidDuration,
		CodeMarketUnknownEvent,
		CodeMarketInvalidVolume,
		CodeMarketInvalidDefinition,
		CodeEncounterInvalidSpawn,
		CodeEncounterInvalidDamage:
		return codes.InvalidArgument

	// FailedPrecondition - legitimate business rejections
	case CodeEnergyInsufficient,
		CodeEncounterNotActive,
		CodeEncounterExpired:
		return codes.FailedPrecondition

	// Aborted - transient contention, safe to retry
	case CodeEnergyContentionExceeded,
		CodeMarketContentionExceeded:
		return codes.Aborted

	// Unavailable - backing store or lock trouble, retry later
	case CodeLockUnavailable,
		CodeStoreUnavailable:
		return codes.Unavailable

	case CodeNotFound:
		return codes.NotFound

	case CodeAlreadyExists:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}
