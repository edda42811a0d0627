package store

import "bizsim/internal/sim"

// DefaultCities is the reference market set loaded into an empty database.
var DefaultCities = []sim.City{
	{Name: "Mumbai", Population: 20_400_000, DemandPct: sim.TierValues{Luxury: 4, Flagship: 10, Midtier: 22, Lowertier: 30}, PurchasingPower: 1.35, BaseDistributionCost: 180, BaseLaborCost: 42_000, BaseLandCost: 95_000},
	{Name: "Delhi", Population: 18_900_000, DemandPct: sim.TierValues{Luxury: 3.5, Flagship: 9, Midtier: 21, Lowertier: 32}, PurchasingPower: 1.25, BaseDistributionCost: 160, BaseLaborCost: 38_000, BaseLandCost: 80_000},
	{Name: "Bengaluru", Population: 13_200_000, DemandPct: sim.TierValues{Luxury: 3, Flagship: 11, Midtier: 24, Lowertier: 27}, PurchasingPower: 1.3, BaseDistributionCost: 150, BaseLaborCost: 45_000, BaseLandCost: 70_000},
	{Name: "Chennai", Population: 11_500_000, DemandPct: sim.TierValues{Luxury: 2, Flagship: 7, Midtier: 20, Lowertier: 33}, PurchasingPower: 1.05, BaseDistributionCost: 130, BaseLaborCost: 32_000, BaseLandCost: 55_000},
	{Name: "Kolkata", Population: 15_100_000, DemandPct: sim.TierValues{Luxury: 1.5, Flagship: 6, Midtier: 18, Lowertier: 36}, PurchasingPower: 0.9, BaseDistributionCost: 120, BaseLaborCost: 28_000, BaseLandCost: 45_000},
	{Name: "Hyderabad", Population: 10_500_000, DemandPct: sim.TierValues{Luxury: 2.5, Flagship: 8, Midtier: 21, Lowertier: 31}, PurchasingPower: 1.1, BaseDistributionCost: 135, BaseLaborCost: 34_000, BaseLandCost: 52_000},
	{Name: "Pune", Population: 7_200_000, DemandPct: sim.TierValues{Luxury: 2, Flagship: 8, Midtier: 23, Lowertier: 29}, PurchasingPower: 1.1, BaseDistributionCost: 125, BaseLaborCost: 33_000, BaseLandCost: 50_000},
	{Name: "Ahmedabad", Population: 8_400_000, DemandPct: sim.TierValues{Luxury: 1.5, Flagship: 6, Midtier: 19, Lowertier: 35}, PurchasingPower: 0.95, BaseDistributionCost: 115, BaseLaborCost: 29_000, BaseLandCost: 42_000},
}
