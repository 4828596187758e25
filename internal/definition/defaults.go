package definition

import "github.com/pitabwire/vehicleflow/model"

// DefaultLocations returns the built-in location table. The slice order is the
// declaration order used to break ties, and a fresh copy is returned on every
// call.
func DefaultLocations() []model.LocationConfig {
	showroomFloorRules := []model.StepRule{
		{Field: model.AttrNegotiationStarted, Step: model.StepNegotiation},
		{Field: model.AttrTestDriveScheduled, Step: model.StepTestDrive},
	}
	showroomFloorSteps := []model.Step{model.StepShowroomDisplay, model.StepTestDrive, model.StepNegotiation}
	showroomRequired := []string{model.AttrModel, model.AttrPDICompleted, model.AttrPrice}
	inventorySteps := []model.Step{
		model.StepInitialInspection, model.StepPDIPending, model.StepPDICompleted, model.StepShowroomReady,
	}

	return []model.LocationConfig{
		{
			Location:       model.LocationNewArrivals,
			Label:          "New Arrivals",
			Stage:          model.StageIntake,
			AllowedNext:    []model.Location{model.LocationCarInventory, model.LocationGarageInventory, model.LocationInventoryGarage, model.LocationRepairs},
			PermittedSteps: []model.Step{model.StepArrival, model.StepInitialInspection},
			EntryStep:      model.StepArrival,
			FallbackStep:   model.StepInitialInspection,
		},
		{
			Location: model.LocationCarInventory,
			Label:    "Car Inventory",
			Stage:    model.StageInventory,
			AllowedNext: []model.Location{
				model.LocationGarageInventory, model.LocationInventoryFloor2, model.LocationInventoryGarage,
				model.LocationRepairs, model.LocationQualityControl, model.LocationShowroomInventory,
				model.LocationShowroomFloor1, model.LocationShowroomFloor2,
			},
			PermittedSteps: append([]model.Step(nil), inventorySteps...),
			RequiredFields: []string{model.AttrModel},
			FallbackStep:   model.StepInitialInspection,
		},
		{
			Location:       model.LocationInventoryFloor2,
			Label:          "Inventory Floor 2",
			Stage:          model.StageInventory,
			AllowedNext:    []model.Location{model.LocationCarInventory, model.LocationGarageInventory, model.LocationShowroomInventory, model.LocationShowroomFloor2},
			PermittedSteps: append([]model.Step(nil), inventorySteps...),
			RequiredFields: []string{model.AttrModel},
			FallbackStep:   model.StepInitialInspection,
		},
		{
			Location:       model.LocationInventoryGarage,
			Label:          "Inventory Garage",
			Stage:          model.StageInventory,
			AllowedNext:    []model.Location{model.LocationCarInventory, model.LocationGarageInventory, model.LocationRepairs},
			PermittedSteps: []model.Step{model.StepInitialInspection, model.StepPDIPending},
			RequiredFields: []string{model.AttrModel},
			FallbackStep:   model.StepInitialInspection,
		},
		{
			Location:       model.LocationGarageSchedule,
			Label:          "Garage Schedule",
			Stage:          model.StageService,
			AllowedNext:    []model.Location{model.LocationGarageInventory, model.LocationRepairs},
			PermittedSteps: []model.Step{model.StepPDIPending, model.StepRepairNeeded},
			RequiredFields: []string{model.AttrModel},
			EntryStep:      model.StepPDIPending,
			StepRules: []model.StepRule{
				{Field: model.AttrRepairStatus, Step: model.StepRepairNeeded},
			},
			FallbackStep: model.StepPDIPending,
		},
		{
			Location: model.LocationGarageInventory,
			Label:    "Garage Inventory",
			Stage:    model.StageService,
			AllowedNext: []model.Location{
				model.LocationCarInventory, model.LocationGarageSchedule, model.LocationRepairs,
				model.LocationQualityControl, model.LocationShowroomFloor1, model.LocationShowroomFloor2,
			},
			PermittedSteps: []model.Step{model.StepPDIPending, model.StepPDIInProgress, model.StepPDICompleted, model.StepPDIFailed},
			RequiredFields: []string{model.AttrModel},
			EntryStep:      model.StepPDIPending,
			StepRules: []model.StepRule{
				{Field: model.AttrPDICompleted, Step: model.StepPDICompleted},
				{Field: model.AttrPDIInProgress, Step: model.StepPDIInProgress},
				{Field: model.AttrPDIFailed, Step: model.StepPDIFailed},
			},
			FallbackStep: model.StepPDIPending,
			Signals:      []string{"inspection.queued"},
		},
		{
			Location:       model.LocationRepairs,
			Label:          "Repairs",
			Stage:          model.StageService,
			AllowedNext:    []model.Location{model.LocationGarageInventory, model.LocationQualityControl, model.LocationCarInventory},
			PermittedSteps: []model.Step{model.StepRepairNeeded, model.StepRepairInProgress, model.StepRepairCompleted},
			RequiredFields: []string{model.AttrModel},
			EntryStep:      model.StepRepairNeeded,
			StepRules: []model.StepRule{
				{Field: model.AttrRepairStatus, Equals: "completed", Step: model.StepRepairCompleted},
				{Field: model.AttrRepairStatus, Equals: "in_progress", Step: model.StepRepairInProgress},
			},
			FallbackStep: model.StepRepairNeeded,
			Signals:      []string{"repair.requested"},
		},
		{
			Location: model.LocationQualityControl,
			Label:    "Quality Control",
			Stage:    model.StageService,
			AllowedNext: []model.Location{
				model.LocationCarInventory, model.LocationRepairs, model.LocationShowroomInventory,
				model.LocationShowroomFloor1, model.LocationShowroomFloor2,
			},
			PermittedSteps: []model.Step{model.StepQualityCheck, model.StepShowroomReady},
			RequiredFields: []string{model.AttrModel, model.AttrPDICompleted},
			EntryStep:      model.StepQualityCheck,
			StepRules: []model.StepRule{
				{Field: model.AttrShowroomReady, Step: model.StepShowroomReady},
			},
			FallbackStep: model.StepQualityCheck,
		},
		{
			Location:       model.LocationShowroomInventory,
			Label:          "Showroom Inventory",
			Stage:          model.StageShowroom,
			AllowedNext:    []model.Location{model.LocationCarInventory, model.LocationShowroomFloor1, model.LocationShowroomFloor2, model.LocationSold},
			PermittedSteps: []model.Step{model.StepShowroomReady, model.StepShowroomDisplay},
			RequiredFields: append([]string(nil), showroomRequired...),
			EntryStep:      model.StepShowroomReady,
			StepRules: []model.StepRule{
				{Field: model.AttrShowroomDisplayed, Step: model.StepShowroomDisplay},
			},
			FallbackStep: model.StepShowroomReady,
		},
		{
			Location: model.LocationShowroomFloor1,
			Label:    "Showroom Floor 1",
			Stage:    model.StageShowroom,
			AllowedNext: []model.Location{
				model.LocationShowroomFloor2, model.LocationShowroomInventory, model.LocationCarInventory,
				model.LocationGarageInventory, model.LocationRepairs, model.LocationSold,
			},
			PermittedSteps: append([]model.Step(nil), showroomFloorSteps...),
			RequiredFields: append([]string(nil), showroomRequired...),
			EntryStep:      model.StepShowroomDisplay,
			StepRules:      append([]model.StepRule(nil), showroomFloorRules...),
			FallbackStep:   model.StepShowroomDisplay,
			Signals:        []string{"showroom.ready"},
		},
		{
			Location: model.LocationShowroomFloor2,
			Label:    "Showroom Floor 2",
			Stage:    model.StageShowroom,
			AllowedNext: []model.Location{
				model.LocationShowroomFloor1, model.LocationShowroomInventory, model.LocationCarInventory,
				model.LocationGarageInventory, model.LocationRepairs, model.LocationSold,
			},
			PermittedSteps: append([]model.Step(nil), showroomFloorSteps...),
			RequiredFields: append([]string(nil), showroomRequired...),
			EntryStep:      model.StepShowroomDisplay,
			StepRules:      append([]model.StepRule(nil), showroomFloorRules...),
			FallbackStep:   model.StepShowroomDisplay,
			Signals:        []string{"showroom.ready"},
		},
		{
			Location:       model.LocationSold,
			Label:          "Sold",
			Stage:          model.StageSale,
			AllowedNext:    []model.Location{model.LocationShipped},
			PermittedSteps: []model.Step{model.StepSold, model.StepDeliveryPrep},
			RequiredFields: []string{model.AttrPrice, model.AttrCustomerName},
			EntryStep:      model.StepSold,
			StepRules: []model.StepRule{
				{Field: model.AttrDeliveryScheduled, Step: model.StepDeliveryPrep},
			},
			FallbackStep: model.StepSold,
			Signals:      []string{"vehicle.sold"},
		},
		{
			Location:       model.LocationShipped,
			Label:          "Shipped",
			Stage:          model.StageSale,
			PermittedSteps: []model.Step{model.StepDelivered},
			RequiredFields: []string{model.AttrCustomerName, model.AttrDeliveryAddress},
			EntryStep:      model.StepDelivered,
			FallbackStep:   model.StepDelivered,
			Signals:        []string{"vehicle.shipped"},
		},
	}
}
