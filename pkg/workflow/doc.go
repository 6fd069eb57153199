/*
Package workflow is the explicit state machine behind order collection.

The current step is never stored: Machine.Step derives it from the draft, so
the draft is the only source of truth. Every attribute write is gated by
Machine.Accept, which only admits the field owned by the current step and
refuses to overwrite recorded values. Machine.Correct is the one way back:
it clears a field with its causal dependents.

	restoration_type -> tooth_positions -> [bridge_validation] -> material_category
	  -> material_subtype -> product_search -> [product_selection] -> shade
	  -> patient_name -> confirm -> done
*/
package workflow
