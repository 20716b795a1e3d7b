// Package chargeback provides per-service cost allocation and showback.
package chargeback

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/config"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// AllocatorConfig holds configuration for cost allocation
type AllocatorConfig struct {
	UnattributedService string // Service name carried by records without a server
	UnattributedPool    string // Where to allocate unattributed costs
	SharedCostSplit     []config.SharedCostRule
}

// ConfigFrom builds the allocator configuration from the file configuration
func ConfigFrom(cfg config.ChargebackConfig) AllocatorConfig {
	return AllocatorConfig{
		UnattributedService: extract.OtherService,
		UnattributedPool:    cfg.UnattributedPool,
		SharedCostSplit:     cfg.SharedCostSplit,
	}
}

// Allocation represents allocated costs for a service
type Allocation struct {
	Service       string                  `json:"service"`
	TotalCost     float64                 `json:"total_cost"`
	DirectCost    float64                 `json:"direct_cost"`    // Attributed through the server name
	AllocatedCost float64                 `json:"allocated_cost"` // Allocated from unattributed
	ByEnv         map[string]float64      `json:"by_env"`
	ByAWSService  map[string]float64      `json:"by_aws_service"`
	Records       []normalizer.CostRecord `json:"-"`
}

func newAllocation(service string) *Allocation {
	return &Allocation{
		Service:      service,
		ByEnv:        make(map[string]float64),
		ByAWSService: make(map[string]float64),
	}
}

// Allocator performs service based cost allocation
type Allocator struct {
	config AllocatorConfig
}

// NewAllocator creates a new cost allocator
func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.UnattributedService == "" {
		cfg.UnattributedService = extract.OtherService
	}
	return &Allocator{config: cfg}
}

// Allocate distributes the costs of a dataset to services. The sum of all
// allocation totals equals the dataset total.
func (a *Allocator) Allocate(ds *aggregator.Dataset) map[string]*Allocation {
	allocations := make(map[string]*Allocation)
	var unattributed []normalizer.CostRecord

	for _, r := range ds.Records() {
		if r.Service == a.config.UnattributedService {
			unattributed = append(unattributed, r)
			continue
		}

		if _, exists := allocations[r.Service]; !exists {
			allocations[r.Service] = newAllocation(r.Service)
		}

		alloc := allocations[r.Service]
		alloc.TotalCost += r.Cost
		alloc.DirectCost += r.Cost
		alloc.ByEnv[r.Env] += r.Cost
		alloc.ByAWSService[r.AWSService] += r.Cost
		alloc.Records = append(alloc.Records, r)
	}

	a.allocateUnattributed(allocations, unattributed)

	return allocations
}

// allocateUnattributed distributes costs no server could be found for
func (a *Allocator) allocateUnattributed(allocations map[string]*Allocation, unattributed []normalizer.CostRecord) {
	if len(unattributed) == 0 {
		return
	}

	var total float64
	for _, r := range unattributed {
		total += r.Cost
	}

	switch {
	case len(a.config.SharedCostSplit) > 0:
		remainingPct := 100.0

		for _, rule := range a.config.SharedCostSplit {
			if _, exists := allocations[rule.Service]; !exists {
				allocations[rule.Service] = newAllocation(rule.Service)
			}

			allocated := total * (rule.Percentage / 100)
			allocations[rule.Service].AllocatedCost += allocated
			allocations[rule.Service].TotalCost += allocated
			remainingPct -= rule.Percentage
		}

		// Distribute remaining proportionally
		if remainingPct > 0 {
			a.distributeProportionally(allocations, total*(remainingPct/100))
		}
	case a.config.UnattributedPool != "":
		pool := a.config.UnattributedPool
		if _, exists := allocations[pool]; !exists {
			allocations[pool] = newAllocation(pool)
		}
		allocations[pool].TotalCost += total
		allocations[pool].AllocatedCost += total

		for _, r := range unattributed {
			allocations[pool].ByEnv[r.Env] += r.Cost
			allocations[pool].ByAWSService[r.AWSService] += r.Cost
		}
	default:
		a.distributeProportionally(allocations, total)
	}
}

// distributeProportionally allocates amount based on direct spend. Without
// any direct spend the amount stays with the unattributed service.
func (a *Allocator) distributeProportionally(allocations map[string]*Allocation, amount float64) {
	var totalDirect float64
	for _, alloc := range allocations {
		totalDirect += alloc.DirectCost
	}

	if totalDirect == 0 {
		service := a.config.UnattributedService
		if _, exists := allocations[service]; !exists {
			allocations[service] = newAllocation(service)
		}
		allocations[service].AllocatedCost += amount
		allocations[service].TotalCost += amount
		return
	}

	for _, alloc := range allocations {
		proportion := alloc.DirectCost / totalDirect
		allocated := amount * proportion
		alloc.AllocatedCost += allocated
		alloc.TotalCost += allocated
	}
}

// Report holds a generated chargeback report
type Report struct {
	Period      string
	Envs        []string
	Allocations []*Allocation
	TotalCost   float64
	Generated   time.Time
}

// GenerateReport creates a chargeback report from allocations. envs gives
// the per-environment columns in order.
func GenerateReport(allocations map[string]*Allocation, period string, envs []string) *Report {
	report := &Report{
		Period:    period,
		Envs:      envs,
		Generated: time.Now(),
	}

	for _, alloc := range allocations {
		report.Allocations = append(report.Allocations, alloc)
		report.TotalCost += alloc.TotalCost
	}

	// Sort by cost descending
	sort.Slice(report.Allocations, func(i, j int) bool {
		x, y := report.Allocations[i], report.Allocations[j]
		if x.TotalCost != y.TotalCost {
			return x.TotalCost > y.TotalCost
		}
		return x.Service < y.Service
	})

	return report
}

// SaveCSV saves the report as a CSV file
func (r *Report) SaveCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Header
	header := []string{"Service", "Total Cost", "Direct Cost", "Allocated Cost"}
	header = append(header, r.Envs...)
	header = append(header, "% of Total")
	if err := writer.Write(header); err != nil {
		return err
	}

	// Data rows
	for _, alloc := range r.Allocations {
		var pct float64
		if r.TotalCost != 0 {
			pct = (alloc.TotalCost / r.TotalCost) * 100
		}
		row := []string{
			alloc.Service,
			fmt.Sprintf("%.2f", alloc.TotalCost),
			fmt.Sprintf("%.2f", alloc.DirectCost),
			fmt.Sprintf("%.2f", alloc.AllocatedCost),
		}
		for _, env := range r.Envs {
			row = append(row, fmt.Sprintf("%.2f", alloc.ByEnv[env]))
		}
		row = append(row, fmt.Sprintf("%.1f%%", pct))
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	// Total row
	totalRow := []string{
		"TOTAL",
		fmt.Sprintf("%.2f", r.TotalCost),
		"", "",
	}
	for range r.Envs {
		totalRow = append(totalRow, "")
	}
	totalRow = append(totalRow, "100.0%")
	return writer.Write(totalRow)
}
