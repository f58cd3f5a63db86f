package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// NoProfileDontRetrieve marks that no FDO profile should be retrieved later.
const NoProfileDontRetrieve int64 = -1

// LatestProfileVersion is the hook that resolves the most recent
// feedback-directed-optimization profile version. The default reports that
// no profile is available. Deployments with a profile service replace it.
var LatestProfileVersion = func() int64 { return NoProfileDontRetrieve }

// Options are the compile options handed to a backend.
type Options struct {
	NumReplicas   int `json:"num_replicas"`
	NumPartitions int `json:"num_partitions"`

	UseSPMDPartitioning     bool `json:"use_spmd_partitioning"`
	UseAutoSPMDPartitioning bool `json:"use_auto_spmd_partitioning"`

	// AutoSPMDMeshShape and AutoSPMDMeshIDs define the search space for the
	// automatic SPMD partitioner. Only meaningful when
	// UseAutoSPMDPartitioning is set.
	AutoSPMDMeshShape []int `json:"auto_spmd_mesh_shape,omitempty"`
	AutoSPMDMeshIDs   []int `json:"auto_spmd_mesh_ids,omitempty"`

	// DeviceAssignment maps logical replicas x partitions to device ids.
	// Empty means the backend chooses.
	DeviceAssignment [][]int `json:"device_assignment,omitempty"`

	// EnvOverrides are additional options parsed by the backend compiler.
	EnvOverrides map[string]string `json:"env_overrides,omitempty"`

	// FDOProfile is an optional feedback-directed-optimization profile.
	FDOProfile []byte `json:"fdo_profile,omitempty"`

	// ProfileVersion selects the FDO profile; NoProfileDontRetrieve means
	// no attempt is made to retrieve one.
	ProfileVersion int64 `json:"profile_version"`

	// OptimizationLevel is the backend optimization level; 0 disables most
	// optimization work.
	OptimizationLevel int `json:"optimization_level"`

	// DisableExpensivePasses skips backend passes with poor cost/benefit.
	DisableExpensivePasses bool `json:"disable_expensive_passes"`
}

// DeriveParams are the inputs to DeriveOptions.
type DeriveParams struct {
	NumReplicas   int
	NumPartitions int

	// DeviceAssignment is replicas x partitions. A one-dimensional
	// assignment (rows of length 1) is accepted when NumPartitions is 1.
	DeviceAssignment [][]int

	DisableSPMDPartitioning bool
	UseAutoSPMDPartitioning bool
	AutoSPMDMeshShape       []int
	AutoSPMDMeshIDs         []int

	EnvOverrides map[string]string
	FDOProfile   []byte

	// ProfileVersionFlag is the explicitly requested profile version, 0 if
	// unset. It takes precedence over the LatestProfileVersion hook.
	ProfileVersionFlag int64

	// DisableMostOptimizations lowers the optimization level to 0 when the
	// cost of optimizing exceeds that of running unoptimized code.
	DisableMostOptimizations bool
}

// DeriveOptions validates params and assembles backend compile options.
func DeriveOptions(p DeriveParams) (*Options, error) {
	if p.NumReplicas < 1 {
		return nil, fmt.Errorf("num_replicas must be >= 1, got %d", p.NumReplicas)
	}
	if p.NumPartitions < 1 {
		return nil, fmt.Errorf("num_partitions must be >= 1, got %d", p.NumPartitions)
	}

	opts := &Options{
		NumReplicas:             p.NumReplicas,
		NumPartitions:           p.NumPartitions,
		UseSPMDPartitioning:     !p.DisableSPMDPartitioning,
		UseAutoSPMDPartitioning: p.UseAutoSPMDPartitioning,
		EnvOverrides:            p.EnvOverrides,
		FDOProfile:              p.FDOProfile,
		OptimizationLevel:       2,
	}

	if p.UseAutoSPMDPartitioning {
		opts.AutoSPMDMeshShape = p.AutoSPMDMeshShape
		opts.AutoSPMDMeshIDs = p.AutoSPMDMeshIDs
	}

	if p.DeviceAssignment != nil {
		da, err := normalizeDeviceAssignment(p.DeviceAssignment, p.NumReplicas, p.NumPartitions)
		if err != nil {
			return nil, err
		}
		opts.DeviceAssignment = da
	}

	if p.DisableMostOptimizations {
		opts.OptimizationLevel = 0
		opts.DisableExpensivePasses = true
	}

	opts.ProfileVersion = resolveProfileVersion(p.ProfileVersionFlag)

	return opts, nil
}

// normalizeDeviceAssignment validates the assignment shape against the
// requested replica and partition counts.
func normalizeDeviceAssignment(da [][]int, replicas, partitions int) ([][]int, error) {
	if len(da) != replicas {
		return nil, fmt.Errorf("device_assignment does not match num_replicas: %d vs %d", len(da), replicas)
	}
	for i, row := range da {
		if len(row) != partitions {
			return nil, fmt.Errorf("device_assignment does not match num_partitions: row %d has %d vs %d", i, len(row), partitions)
		}
	}
	return da, nil
}

// resolveProfileVersion applies the precedence order for the FDO profile
// version: the explicit flag wins; otherwise the LatestProfileVersion hook
// is consulted; a hook answer of 0 should not happen and disables retrieval.
func resolveProfileVersion(flag int64) int64 {
	if flag > 0 {
		return flag
	}
	if v := LatestProfileVersion(); v != 0 {
		return v
	}
	log.Error().Msg("Got profile version 0; defaulting to no profile retrieval")
	return NoProfileDontRetrieve
}

// Fingerprint returns a deterministic serialization of the options for
// cache-key hashing. encoding/json emits map keys in sorted order, so the
// env overrides marshal deterministically.
func (o *Options) Fingerprint() []byte {
	canonical := *o
	// The profile version selects which profile is applied at run time; it
	// does not change the compiled artifact.
	canonical.ProfileVersion = 0

	data, err := json.Marshal(&canonical)
	if err != nil {
		// Options contain only marshalable fields; this is unreachable.
		panic(err)
	}
	return data
}
