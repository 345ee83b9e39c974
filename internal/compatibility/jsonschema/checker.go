// Package jsonschema provides JSON Schema compatibility checking.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/nimbusreg/schemaregistry/internal/compatibility"
	"github.com/nimbusreg/schemaregistry/internal/storage"
)

// Checker implements compatibility.SchemaChecker for JSON Schema.
type Checker struct{}

// NewChecker creates a new JSON Schema compatibility checker.
func NewChecker() *Checker {
	return &Checker{}
}

// keywordRule is one independent keyword-level comparison applied to every
// schema node. Order matches the teacher's original call sequence so
// message ordering stays stable; the dispatch itself is table-driven rather
// than a hand-written chain of calls.
type keywordRule func(c *Checker, candidate, prior map[string]interface{}, path string, result *compatibility.Result)

var keywordRules []keywordRule

// The table is filled in init() because several rules recurse back into
// compareNodes, which reads the table; a package-level initializer would form
// an initialization cycle.
func init() {
	keywordRules = []keywordRule{
		(*Checker).checkEnumCompatibility,
		(*Checker).checkConstCompatibility,
		(*Checker).checkAdditionalPropertiesCompatibility,
		(*Checker).checkStringConstraints,
		(*Checker).checkNumericConstraints,
		(*Checker).checkPropertyCountConstraints,
		(*Checker).checkNotSchema,
		(*Checker).checkDependencies,
		(*Checker).checkDependentRequired,
		(*Checker).checkDependentSchemas,
		(*Checker).checkUniqueItems,
		(*Checker).checkAdditionalItems,
		(*Checker).checkItemsBoolean,
	}
}

// Check checks compatibility between reader (new) and writer (old) JSON schemas.
func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	var candidate, prior map[string]interface{}

	if err := json.Unmarshal([]byte(reader.Schema), &candidate); err != nil {
		return compatibility.NewIncompatibleResult("failed to parse new schema: " + err.Error())
	}

	if err := json.Unmarshal([]byte(writer.Schema), &prior); err != nil {
		return compatibility.NewIncompatibleResult("failed to parse old schema: " + err.Error())
	}

	// Build external reference maps from resolved references
	candidateExtRefs := buildExternalRefMap(reader.References)
	priorExtRefs := buildExternalRefMap(writer.References)

	// Resolve $ref references within each schema (local + external)
	resolveAllRefs(candidate, candidateExtRefs)
	resolveAllRefs(prior, priorExtRefs)

	result := compatibility.NewCompatibleResult()
	c.compareNodes(candidate, prior, "", result)
	return result
}

// compareNodes recursively checks compatibility between two schema nodes.
func (c *Checker) compareNodes(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// Handle composition keywords (oneOf, anyOf, allOf)
	candidateHasComp := hasCompositionKeyword(candidate)
	priorHasComp := hasCompositionKeyword(prior)

	if candidateHasComp || priorHasComp {
		c.checkCompositionCompatibility(candidate, prior, path, result)
		// If both schemas are purely compositional (no "type" and no object/array keywords),
		// return to avoid false type-change errors
		if getType(candidate) == nil && getType(prior) == nil &&
			!hasObjectKeywords(candidate) && !hasObjectKeywords(prior) {
			return
		}
	}

	// Check type compatibility (with number/integer promotion)
	candidateType := getType(candidate)
	priorType := getType(prior)

	if !c.areTypesCompatible(candidateType, priorType) {
		result.AddMessage("Type changed at %s from '%v' to '%v'", pathOrRoot(path), priorType, candidateType)
	}

	// Check based on schema type — detect implicit types via keywords
	candidateTypeStr := typeString(candidateType)
	priorTypeStr := typeString(priorType)

	isObject := candidateTypeStr == "object" || priorTypeStr == "object" ||
		hasObjectKeywords(candidate) || hasObjectKeywords(prior)
	isArray := candidateTypeStr == "array" || priorTypeStr == "array" ||
		hasArrayKeywords(candidate) || hasArrayKeywords(prior)

	if isObject {
		c.checkObjectCompatibility(candidate, prior, path, result)
	}
	if isArray {
		c.checkArrayCompatibility(candidate, prior, path, result)
	}

	for _, rule := range keywordRules {
		rule(c, candidate, prior, path, result)
	}
}

// ==========================================================================
// $REF RESOLUTION
// ==========================================================================

// buildExternalRefMap builds a map of reference name → parsed schema from resolved
// external references. This allows $ref resolution for cross-subject references.
func buildExternalRefMap(refs []storage.Reference) map[string]map[string]interface{} {
	if len(refs) == 0 {
		return nil
	}
	result := make(map[string]map[string]interface{}, len(refs))
	for _, ref := range refs {
		if ref.Schema == "" {
			continue
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(ref.Schema), &parsed); err == nil {
			result[ref.Name] = parsed
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// resolveAllRefs resolves all $ref references within a schema using both
// local definitions and external references from other subjects.
func resolveAllRefs(schema map[string]interface{}, extRefs map[string]map[string]interface{}) {
	defs := getDefinitions(schema)
	resolveRefsInMap(schema, defs, extRefs)
}

// getDefinitions returns the definitions map from a schema.
func getDefinitions(schema map[string]interface{}) map[string]interface{} {
	if defs, ok := schema["definitions"].(map[string]interface{}); ok {
		return defs
	}
	if defs, ok := schema["$defs"].(map[string]interface{}); ok {
		return defs
	}
	return nil
}

// resolveRefsInMap recursively replaces $ref with the referenced definition content.
// Resolves both local ($ref: "#/definitions/...") and external ($ref: "RefName") references.
func resolveRefsInMap(schema map[string]interface{}, defs map[string]interface{}, extRefs map[string]map[string]interface{}) {
	for key, val := range schema {
		if key == "definitions" || key == "$defs" {
			continue
		}
		switch v := val.(type) {
		case map[string]interface{}:
			if ref, ok := v["$ref"].(string); ok {
				if resolved := resolveRef(ref, defs, extRefs); resolved != nil {
					schema[key] = resolved
				}
			} else {
				resolveRefsInMap(v, defs, extRefs)
			}
		case []interface{}:
			for i, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					if ref, ok := m["$ref"].(string); ok {
						if resolved := resolveRef(ref, defs, extRefs); resolved != nil {
							v[i] = resolved
						}
					} else {
						resolveRefsInMap(m, defs, extRefs)
					}
				}
			}
		}
	}
}

// resolveRef resolves a $ref string, trying local definitions first, then external references.
func resolveRef(ref string, defs map[string]interface{}, extRefs map[string]map[string]interface{}) map[string]interface{} {
	// Try local $ref first (e.g., "#/definitions/someRef")
	if resolved := resolveLocalRef(ref, defs); resolved != nil {
		return resolved
	}
	// Try external references (e.g., "Address" or "com.example.Address")
	if extRefs != nil {
		if resolved, ok := extRefs[ref]; ok {
			// Return a copy to avoid mutation
			result := make(map[string]interface{}, len(resolved))
			for k, v := range resolved {
				result[k] = v
			}
			return result
		}
	}
	return nil
}

// resolveLocalRef resolves a local $ref string to its definition.
func resolveLocalRef(ref string, defs map[string]interface{}) map[string]interface{} {
	if defs == nil {
		return nil
	}
	// Handle "#/definitions/name" and "#/$defs/name" patterns
	for _, prefix := range []string{"#/definitions/", "#/$defs/"} {
		if strings.HasPrefix(ref, prefix) {
			name := ref[len(prefix):]
			if def, ok := defs[name]; ok {
				if defMap, ok := def.(map[string]interface{}); ok {
					// Return a copy to avoid mutation
					result := make(map[string]interface{}, len(defMap))
					for k, v := range defMap {
						result[k] = v
					}
					return result
				}
			}
		}
	}
	return nil
}

// ==========================================================================
// IMPLICIT TYPE DETECTION
// ==========================================================================

// hasObjectKeywords returns true if the schema has keywords that imply object type.
func hasObjectKeywords(schema map[string]interface{}) bool {
	for _, key := range []string{"properties", "required", "patternProperties", "additionalProperties"} {
		if _, ok := schema[key]; ok {
			return true
		}
	}
	return false
}

// hasArrayKeywords returns true if the schema has keywords that imply array type.
func hasArrayKeywords(schema map[string]interface{}) bool {
	if _, ok := schema["prefixItems"]; ok {
		return true
	}
	if _, ok := schema["additionalItems"]; ok {
		return true
	}
	// "items" as array (tuple) or schema object or boolean implies array validation
	if _, ok := schema["items"]; ok {
		return true
	}
	if _, ok := schema["minItems"]; ok {
		return true
	}
	if _, ok := schema["maxItems"]; ok {
		return true
	}
	if _, ok := schema["uniqueItems"]; ok {
		return true
	}
	return false
}

// ==========================================================================
// OBJECT COMPATIBILITY
// ==========================================================================

// checkObjectCompatibility checks compatibility of object schemas.
func (c *Checker) checkObjectCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	candidateProps := getProperties(candidate)
	priorProps := getProperties(prior)
	candidateRequired := getRequiredSet(candidate)
	priorRequired := getRequiredSet(prior)

	// Determine content model type for the reader (new schema)
	readerOpen := hasOpenContentModel(candidate)
	readerAPSchema := getAdditionalPropertiesSchema(candidate)

	// Check for removed properties
	for propName := range priorProps {
		propPath := joinPath(path, propName)
		if _, exists := candidateProps[propName]; !exists {
			// Skip if old property schema was false (already forbidden)
			if priorPropVal, ok := priorProps[propName].(bool); ok && !priorPropVal {
				continue
			}
			if !readerOpen {
				// Closed model: check if removed property is covered by patternProperties or additionalProperties schema
				if hasCoveringPatternProperties(candidate) {
					continue // patternProperties may cover the removed property
				}
				if readerAPSchema != nil {
					priorPropMap, priorOk := priorProps[propName].(map[string]interface{})
					if priorOk {
						localResult := compatibility.NewCompatibleResult()
						c.compareNodes(readerAPSchema, priorPropMap, propPath, localResult)
						if !localResult.IsCompatible {
							result.AddMessage("Property '%s' removed but not covered by additionalProperties", propPath)
						}
					}
				} else {
					result.AddMessage("Property '%s' was removed", propPath)
				}
			}
		}
	}

	// Check for new properties
	for propName := range candidateProps {
		propPath := joinPath(path, propName)
		_, existedBefore := priorProps[propName]
		isRequired := candidateRequired[propName]

		if !existedBefore {
			// Skip if new property schema is boolean true (accepts anything — no new constraint)
			if candidatePropVal, ok := candidateProps[propName].(bool); ok && candidatePropVal {
				continue
			}
			if isRequired {
				// New required property added — always incompatible for backward compat
				result.AddMessage("New required property '%s' was added", propPath)
			} else if hasOpenContentModel(prior) {
				// Open content model: old writer could have used this property name
				// with any type, conflicting with the new typed constraint
				result.AddMessage("Property '%s' was added to open content model", propPath)
			} else if getAdditionalPropertiesSchema(prior) != nil {
				// Partially open: check if new property type matches the AP schema
				candidatePropMap, candOk := candidateProps[propName].(map[string]interface{})
				apSchema := getAdditionalPropertiesSchema(prior)
				if candOk && apSchema != nil {
					localResult := compatibility.NewCompatibleResult()
					c.compareNodes(candidatePropMap, apSchema, propPath, localResult)
					if !localResult.IsCompatible {
						result.AddMessage("Property '%s' added with type incompatible with additionalProperties", propPath)
					}
				}
			}
			// Closed model (additionalProperties:false) + non-required → compatible
			// (old writer couldn't produce this property)
		} else if !priorRequired[propName] && isRequired {
			result.AddMessage("Property '%s' changed from optional to required", propPath)
		}
	}

	// Check existing properties for compatibility
	for propName, candidateProp := range candidateProps {
		if priorProp, exists := priorProps[propName]; exists {
			propPath := joinPath(path, propName)
			candidatePropMap, candOk := candidateProp.(map[string]interface{})
			priorPropMap, priorOk := priorProp.(map[string]interface{})
			if candOk && priorOk {
				c.compareNodes(candidatePropMap, priorPropMap, propPath, result)
			}
		}
	}

	// Check if required array was added (old had none, new has some)
	if len(priorRequired) == 0 && len(candidateRequired) > 0 {
		for propName := range candidateRequired {
			if _, existed := priorProps[propName]; existed && !priorRequired[propName] {
				// Already handled above in the "changed from optional to required" check
				continue
			}
		}
	}
}

// getAdditionalPropertiesSchema returns the additionalProperties value as a schema map,
// or nil if not present or if it's a boolean.
func getAdditionalPropertiesSchema(schema map[string]interface{}) map[string]interface{} {
	ap, ok := schema["additionalProperties"]
	if !ok {
		return nil
	}
	if apSchema, ok := ap.(map[string]interface{}); ok {
		return apSchema
	}
	return nil
}

// ==========================================================================
// ARRAY COMPATIBILITY
// ==========================================================================

// checkArrayCompatibility checks compatibility of array schemas.
func (c *Checker) checkArrayCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// Handle single-schema items (not tuple)
	candidateItems := getItems(candidate)
	priorItems := getItems(prior)

	if candidateItems != nil && priorItems != nil {
		c.compareNodes(candidateItems, priorItems, joinPath(path, "items"), result)
	} else if candidateItems != nil && priorItems == nil {
		// Only flag if old schema truly had no items constraint (not items:false)
		_, priorHasItems := prior["items"]
		if !priorHasItems {
			// Adding items constraint to unconstrained array — more restrictive
			result.AddMessage("items schema added at '%s'", pathOrRoot(path))
		}
	}

	// Handle tuple-style items (items as array in Draft-07, prefixItems in Draft-2020)
	c.checkTupleItems(candidate, prior, path, result)

	// Check minItems/maxItems constraints
	c.checkConstraintChange(candidate, prior, "minItems", path, result, true)
	c.checkConstraintChange(candidate, prior, "maxItems", path, result, false)
}

// checkTupleItems checks tuple-style array items compatibility.
// Draft-07 uses "items" as array, Draft-2020 uses "prefixItems".
func (c *Checker) checkTupleItems(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorTuple := getTupleItems(prior)
	candidateTuple := getTupleItems(candidate)

	if len(priorTuple) == 0 && len(candidateTuple) == 0 {
		return
	}

	// Get the "additional items" schema for content model checks
	priorAISchema := getAdditionalItemsSchema(prior)
	candidateAISchema := getAdditionalItemsSchema(candidate)

	// Compare items at each position
	minLen := len(priorTuple)
	if len(candidateTuple) < minLen {
		minLen = len(candidateTuple)
	}

	for i := 0; i < minLen; i++ {
		priorItem, priorOk := priorTuple[i].(map[string]interface{})
		candidateItem, candOk := candidateTuple[i].(map[string]interface{})
		if priorOk && candOk {
			c.compareNodes(candidateItem, priorItem, joinPath(path, fmt.Sprintf("items/%d", i)), result)
		}
	}

	// Items added to tuple
	if len(candidateTuple) > len(priorTuple) {
		for i := len(priorTuple); i < len(candidateTuple); i++ {
			candidateItem, candOk := candidateTuple[i].(map[string]interface{})
			if !candOk {
				continue
			}
			// Check if old had additionalItems schema covering this position
			if priorAISchema != nil {
				localResult := compatibility.NewCompatibleResult()
				c.compareNodes(candidateItem, priorAISchema, joinPath(path, fmt.Sprintf("items/%d", i)), localResult)
				if !localResult.IsCompatible {
					result.AddMessage("Item added at position %d not covered by additionalItems", i)
				}
			}
		}
	}

	// Items removed from tuple
	if len(priorTuple) > len(candidateTuple) {
		for i := len(candidateTuple); i < len(priorTuple); i++ {
			priorItem, priorOk := priorTuple[i].(map[string]interface{})
			if !priorOk {
				continue
			}
			// Check if new has additionalItems schema covering this position
			if candidateAISchema != nil {
				localResult := compatibility.NewCompatibleResult()
				c.compareNodes(candidateAISchema, priorItem, joinPath(path, fmt.Sprintf("items/%d", i)), localResult)
				if !localResult.IsCompatible {
					result.AddMessage("Item removed at position %d not covered by additionalItems", i)
				}
			}
		}
	}
}

// getTupleItems returns the tuple-style items array from a schema.
// Handles both Draft-07 (items as array) and Draft-2020 (prefixItems).
func getTupleItems(schema map[string]interface{}) []interface{} {
	// Draft-2020: prefixItems
	if prefixItems, ok := schema["prefixItems"].([]interface{}); ok {
		return prefixItems
	}
	// Draft-07: items as array
	if items, ok := schema["items"].([]interface{}); ok {
		return items
	}
	return nil
}

// getAdditionalItemsSchema returns the schema for additional items beyond tuple items.
// Draft-07: additionalItems schema, Draft-2020: items schema (when prefixItems present)
func getAdditionalItemsSchema(schema map[string]interface{}) map[string]interface{} {
	// If schema has prefixItems, then "items" is the additional items schema (Draft-2020)
	if _, hasPrefixItems := schema["prefixItems"]; hasPrefixItems {
		if items, ok := schema["items"].(map[string]interface{}); ok {
			return items
		}
		return nil
	}
	// Draft-07: additionalItems
	if ai, ok := schema["additionalItems"].(map[string]interface{}); ok {
		return ai
	}
	return nil
}

// ==========================================================================
// ENUM COMPATIBILITY
// ==========================================================================

// checkEnumCompatibility checks enum value changes.
func (c *Checker) checkEnumCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	candidateEnum := getEnum(candidate)
	priorEnum := getEnum(prior)

	if priorEnum == nil && candidateEnum != nil {
		// Enum constraint added — more restrictive
		result.AddMessage("Enum constraint added at '%s'", pathOrRoot(path))
		return
	}

	if priorEnum == nil {
		return
	}

	if candidateEnum == nil {
		// Enum constraint removed — compatible (less restrictive)
		return
	}

	// Check for removed enum values
	priorEnumSet := make(map[string]bool)
	for _, v := range priorEnum {
		priorEnumSet[fmt.Sprintf("%v", v)] = true
	}

	candidateEnumSet := make(map[string]bool)
	for _, v := range candidateEnum {
		candidateEnumSet[fmt.Sprintf("%v", v)] = true
	}

	for priorVal := range priorEnumSet {
		if !candidateEnumSet[priorVal] {
			result.AddMessage("Enum value '%s' was removed at '%s'", priorVal, pathOrRoot(path))
		}
	}
}

// ==========================================================================
// CONST COMPATIBILITY
// ==========================================================================

// checkConstCompatibility checks const value changes.
// const is semantically equivalent to an enum with a single value.
func (c *Checker) checkConstCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorConst, hasPrior := prior["const"]
	candidateConst, hasCandidate := candidate["const"]

	if !hasPrior && !hasCandidate {
		return
	}

	if hasPrior && !hasCandidate {
		// Removing const constraint — compatible (less restrictive)
		return
	}

	if !hasPrior && hasCandidate {
		// Adding const constraint — more restrictive
		result.AddMessage("const constraint added at '%s'", pathOrRoot(path))
		return
	}

	// Both have const — check if values differ
	if !reflect.DeepEqual(priorConst, candidateConst) {
		result.AddMessage("const value changed at '%s' from '%v' to '%v'", pathOrRoot(path), priorConst, candidateConst)
	}
}

// ==========================================================================
// ADDITIONAL PROPERTIES COMPATIBILITY
// ==========================================================================

// checkAdditionalPropertiesCompatibility checks additionalProperties changes.
func (c *Checker) checkAdditionalPropertiesCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	candidateAP, hasCandidateAP := candidate["additionalProperties"]
	priorAP, hasPriorAP := prior["additionalProperties"]

	// If old schema allowed additional properties and new doesn't
	if (!hasPriorAP || priorAP == true) && hasCandidateAP && candidateAP == false {
		result.AddMessage("additionalProperties changed from allowed to forbidden at '%s'", pathOrRoot(path))
	}

	// If old allowed additional properties schema and new narrows it
	if candidateAPSchema, candOk := candidateAP.(map[string]interface{}); candOk {
		if priorAPSchema, priorOk := priorAP.(map[string]interface{}); priorOk {
			c.compareNodes(candidateAPSchema, priorAPSchema, joinPath(path, "additionalProperties"), result)
		} else if !hasPriorAP || priorAP == true {
			// Old was unrestricted, new has schema constraint — narrowing
			result.AddMessage("additionalProperties narrowed at '%s'", pathOrRoot(path))
		}
	}
}

// ==========================================================================
// COMPOSITION COMPATIBILITY (oneOf, anyOf, allOf)
// ==========================================================================

// hasCompositionKeyword returns true if the schema uses oneOf, anyOf, or allOf.
func hasCompositionKeyword(schema map[string]interface{}) bool {
	_, hasOneOf := schema["oneOf"]
	_, hasAnyOf := schema["anyOf"]
	_, hasAllOf := schema["allOf"]
	return hasOneOf || hasAnyOf || hasAllOf
}

// checkCompositionCompatibility handles oneOf, anyOf, allOf compatibility.
func (c *Checker) checkCompositionCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// Handle sum type (oneOf/anyOf) compatibility
	c.checkSumTypeCompatibility(candidate, prior, path, result)

	// Handle allOf (product type) compatibility
	c.checkAllOfCompatibility(candidate, prior, path, result)

	// Check subschema compatibility for matching composition elements
	c.checkCompositionSubschemas(candidate, prior, path, result)
}

// checkCompositionSubschemas recursively checks internal structure of composition elements.
func (c *Checker) checkCompositionSubschemas(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// Only check when both schemas use the same composition keyword with same element count
	for _, keyword := range []string{"oneOf", "anyOf"} {
		priorElems := getSchemaArrayValue(prior, keyword)
		candidateElems := getSchemaArrayValue(candidate, keyword)

		if len(priorElems) > 0 && len(candidateElems) > 0 && len(priorElems) == len(candidateElems) {
			// Schemas have the same number of elements — check each for internal compatibility
			for i := 0; i < len(priorElems); i++ {
				priorElem := priorElems[i]
				candidateElem := candidateElems[i]

				// Check if internal structure is compatible (e.g., property type changes)
				localResult := compatibility.NewCompatibleResult()
				c.compareNodes(candidateElem, priorElem, path, localResult)
				if !localResult.IsCompatible {
					result.AddMessage("Composed schema element changed at '%s'", pathOrRoot(path))
					return
				}
			}
		}
	}
}

// checkSumTypeCompatibility checks oneOf/anyOf compatibility.
// For backward compat: new schema must accept all type options from old schema.
func (c *Checker) checkSumTypeCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorOptions := c.collectSumTypeOptions(prior)
	candidateOptions := c.collectSumTypeOptions(candidate)

	if len(priorOptions) == 0 && len(candidateOptions) == 0 {
		return
	}
	if len(priorOptions) == 0 {
		return // Adding sum types to schema with no previous types — compatible (widening)
	}

	// For backward compat: each old option must have a compatible match in new
	for _, priorOpt := range priorOptions {
		if !c.hasCompatibleSumOption(candidateOptions, priorOpt) {
			priorType := getTypeString(priorOpt)
			if priorType == "" {
				priorType = "schema"
			}
			result.AddMessage("Type option '%s' removed at '%s'", priorType, pathOrRoot(path))
		}
	}
}

// collectSumTypeOptions extracts type options from oneOf, anyOf, allOf, or plain type.
func (c *Checker) collectSumTypeOptions(schema map[string]interface{}) []map[string]interface{} {
	if opts := getSchemaArrayValue(schema, "oneOf"); len(opts) > 0 {
		return opts
	}
	if opts := getSchemaArrayValue(schema, "anyOf"); len(opts) > 0 {
		return opts
	}
	// For allOf, compute the effective type (intersection).
	// allOf with a single type = that type. Multiple conflicting types = empty.
	if opts := getSchemaArrayValue(schema, "allOf"); len(opts) > 0 {
		typeSet := make(map[string]bool)
		for _, opt := range opts {
			if t := getTypeString(opt); t != "" {
				typeSet[t] = true
			}
		}
		if len(typeSet) == 1 {
			for t := range typeSet {
				return []map[string]interface{}{{"type": t}}
			}
		}
		// Multiple conflicting types = empty intersection = no valid options
		// Return nil so sum type check treats old schema as having no options
	}
	// Fall back to the schema's type as a single option
	t := getType(schema)
	if t != nil {
		types := normalizeType(t)
		opts := make([]map[string]interface{}, len(types))
		for i, typ := range types {
			opts[i] = map[string]interface{}{"type": typ}
		}
		return opts
	}
	return nil
}

// hasCompatibleSumOption checks if any new option is compatible with the old option.
func (c *Checker) hasCompatibleSumOption(candidateOptions []map[string]interface{}, priorOpt map[string]interface{}) bool {
	priorType := getTypeString(priorOpt)
	for _, candidateOpt := range candidateOptions {
		candidateType := getTypeString(candidateOpt)
		if candidateType == priorType {
			return true
		}
		if priorType != "" && candidateType != "" && isTypePromotion(priorType, candidateType) {
			return true
		}
	}
	return false
}

// checkAllOfCompatibility checks allOf (product type) compatibility.
func (c *Checker) checkAllOfCompatibility(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorAllOf := getSchemaArrayValue(prior, "allOf")
	candidateAllOf := getSchemaArrayValue(candidate, "allOf")

	if len(priorAllOf) == 0 && len(candidateAllOf) == 0 {
		return
	}

	// Deduplicate
	priorDeduped := deduplicateSchemas(priorAllOf)
	candidateDeduped := deduplicateSchemas(candidateAllOf)

	// Old has allOf, new doesn't — removing allOf constraints is compatible
	if len(priorDeduped) > 0 && len(candidateDeduped) == 0 {
		return
	}

	// New has allOf, old doesn't — adding allOf constraints
	if len(priorDeduped) == 0 && len(candidateDeduped) > 0 {
		// Collect old schema's effective types (from type, oneOf, anyOf)
		priorSumOptions := c.collectSumTypeOptionsExcludeAllOf(prior)
		for _, candidateElem := range candidateDeduped {
			candidateType := getTypeString(candidateElem)
			priorType := typeString(getType(prior))
			if candidateType != "" && priorType != "" && (candidateType == priorType || isTypePromotion(priorType, candidateType)) {
				continue // Same or compatible type constraint
			}
			// Check against old schema's sum type options (oneOf/anyOf)
			if candidateType != "" && len(priorSumOptions) > 0 {
				found := false
				for _, priorOpt := range priorSumOptions {
					priorOptType := getTypeString(priorOpt)
					if candidateType == priorOptType || isTypePromotion(priorOptType, candidateType) {
						found = true
						break
					}
				}
				if found {
					continue
				}
			}
			if !schemaSubsumedBy(candidateElem, prior) {
				result.AddMessage("New constraint added to allOf at '%s'", pathOrRoot(path))
				return
			}
		}
		return
	}

	// Both have allOf — compare elements
	// New elements not in old = added constraints = incompatible
	for _, candidateElem := range candidateDeduped {
		if schemaExistsIn(candidateElem, priorDeduped) {
			continue // Exact match found
		}
		// Try matching by type
		candidateType := getTypeString(candidateElem)
		if candidateType != "" {
			found := false
			for _, priorElem := range priorDeduped {
				priorType := getTypeString(priorElem)
				if priorType == candidateType || isTypePromotion(priorType, candidateType) {
					found = true
					break
				}
			}
			if found {
				continue
			}
		}
		// Try matching by enum (both old and new have enum elements)
		if getEnum(candidateElem) != nil {
			found := false
			for _, priorElem := range priorDeduped {
				if getEnum(priorElem) != nil {
					// Both have enums — check if new is a compatible change
					localResult := compatibility.NewCompatibleResult()
					c.checkEnumCompatibility(candidateElem, priorElem, path, localResult)
					if !localResult.IsCompatible {
						for _, msg := range localResult.Messages {
							result.AddMessage("%s", msg)
						}
					}
					found = true
					break
				}
			}
			if found {
				continue
			}
		}
		// Try matching by shared keys (structural similarity)
		if c.hasMatchingElement(candidateElem, priorDeduped) {
			continue
		}
		result.AddMessage("New constraint added to allOf at '%s'", pathOrRoot(path))
	}

	// Check type changes within matching allOf elements
	for _, priorElem := range priorDeduped {
		priorType := getTypeString(priorElem)
		if priorType == "" {
			continue
		}
		for _, candidateElem := range candidateDeduped {
			candidateType := getTypeString(candidateElem)
			if candidateType != "" && priorType != "" && candidateType != priorType {
				if !isTypePromotion(priorType, candidateType) {
					// Check if both are type schemas (to avoid false positives with enum elements)
					_, hasPriorType := priorElem["type"]
					_, hasCandidateType := candidateElem["type"]
					if hasPriorType && hasCandidateType && len(priorElem) == 1 && len(candidateElem) == 1 {
						result.AddMessage("Type changed in allOf at '%s' from '%s' to '%s'", pathOrRoot(path), priorType, candidateType)
					}
				}
			}
		}
	}
}

// ==========================================================================
// STRING CONSTRAINTS
// ==========================================================================

// checkStringConstraints checks minLength, maxLength, and pattern changes.
func (c *Checker) checkStringConstraints(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// minLength: increasing = incompatible
	c.checkConstraintChange(candidate, prior, "minLength", path, result, true)
	// maxLength: decreasing = incompatible
	c.checkConstraintChange(candidate, prior, "maxLength", path, result, false)

	// pattern changes
	priorPattern, hasPrior := prior["pattern"]
	candidatePattern, hasCandidate := candidate["pattern"]

	if hasPrior && hasCandidate && priorPattern != candidatePattern {
		result.AddMessage("pattern changed at '%s' from '%v' to '%v'", pathOrRoot(path), priorPattern, candidatePattern)
	} else if !hasPrior && hasCandidate {
		result.AddMessage("pattern constraint added at '%s'", pathOrRoot(path))
	}
	// Removing pattern is compatible (less restrictive)
}

// ==========================================================================
// NUMERIC CONSTRAINTS
// ==========================================================================

// checkNumericConstraints checks minimum, maximum, exclusiveMinimum, exclusiveMaximum, multipleOf.
func (c *Checker) checkNumericConstraints(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	// minimum: increasing = incompatible
	c.checkConstraintChange(candidate, prior, "minimum", path, result, true)
	// maximum: decreasing = incompatible
	c.checkConstraintChange(candidate, prior, "maximum", path, result, false)
	// exclusiveMinimum: increasing = incompatible
	c.checkConstraintChange(candidate, prior, "exclusiveMinimum", path, result, true)
	// exclusiveMaximum: decreasing = incompatible
	c.checkConstraintChange(candidate, prior, "exclusiveMaximum", path, result, false)

	// multipleOf changes
	priorMul, hasPrior := prior["multipleOf"]
	candidateMul, hasCandidate := candidate["multipleOf"]

	if hasPrior && hasCandidate {
		priorVal := toFloat64(priorMul)
		candidateVal := toFloat64(candidateMul)
		if priorVal != 0 && candidateVal != 0 {
			ratio := priorVal / candidateVal
			if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
				result.AddMessage("multipleOf changed at '%s' from %v to %v", pathOrRoot(path), priorMul, candidateMul)
			}
		}
	} else if !hasPrior && hasCandidate {
		result.AddMessage("multipleOf constraint added at '%s'", pathOrRoot(path))
	}
}

// ==========================================================================
// PROPERTY COUNT CONSTRAINTS
// ==========================================================================

// checkPropertyCountConstraints checks maxProperties and minProperties.
func (c *Checker) checkPropertyCountConstraints(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	c.checkConstraintChange(candidate, prior, "minProperties", path, result, true)
	c.checkConstraintChange(candidate, prior, "maxProperties", path, result, false)
}

// ==========================================================================
// NOT SCHEMA
// ==========================================================================

// checkNotSchema checks "not" keyword changes.
func (c *Checker) checkNotSchema(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorNot, hasPrior := prior["not"]
	candidateNot, hasCandidate := candidate["not"]

	if !hasPrior && !hasCandidate {
		return
	}

	if !hasPrior && hasCandidate {
		result.AddMessage("'not' constraint added at '%s'", pathOrRoot(path))
		return
	}

	if hasPrior && !hasCandidate {
		return
	}

	priorNotMap, priorOk := priorNot.(map[string]interface{})
	candidateNotMap, candOk := candidateNot.(map[string]interface{})

	if priorOk && candOk {
		priorNotType := getTypeString(priorNotMap)
		candidateNotType := getTypeString(candidateNotMap)

		if priorNotType != "" && candidateNotType != "" && priorNotType != candidateNotType {
			if !isTypePromotion(candidateNotType, priorNotType) {
				result.AddMessage("'not' schema changed at '%s' from '%s' to '%s'", pathOrRoot(path), priorNotType, candidateNotType)
			}
		}

		if !reflect.DeepEqual(priorNotMap, candidateNotMap) && priorNotType == candidateNotType {
			if len(candidateNotMap) < len(priorNotMap) {
				result.AddMessage("'not' schema broadened at '%s'", pathOrRoot(path))
			}
		}
	}
}

// ==========================================================================
// DEPENDENCIES (Draft-07)
// ==========================================================================

// checkDependencies checks "dependencies" keyword changes.
func (c *Checker) checkDependencies(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorDeps, hasPrior := prior["dependencies"]
	candidateDeps, hasCandidate := candidate["dependencies"]

	if !hasPrior && !hasCandidate {
		return
	}

	if !hasPrior && hasCandidate {
		result.AddMessage("dependencies added at '%s'", pathOrRoot(path))
		return
	}

	if hasPrior && !hasCandidate {
		return
	}

	priorDepsMap, priorOk := priorDeps.(map[string]interface{})
	candidateDepsMap, candOk := candidateDeps.(map[string]interface{})
	if !priorOk || !candOk {
		return
	}

	// Check for added dependencies
	for propName := range candidateDepsMap {
		if _, exists := priorDepsMap[propName]; !exists {
			result.AddMessage("dependency added for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}

	// Check for changed/removed dependencies
	for propName, priorDep := range priorDepsMap {
		candidateDep, exists := candidateDepsMap[propName]
		if !exists {
			if _, isSchema := priorDep.(map[string]interface{}); isSchema {
				continue // Schema dependency removed — compatible
			}
			result.AddMessage("dependency removed for property '%s' at '%s'", propName, pathOrRoot(path))
			continue
		}

		// Both exist — check type-specific compatibility
		priorDepSchema, priorIsSchema := priorDep.(map[string]interface{})
		candidateDepSchema, candidateIsSchema := candidateDep.(map[string]interface{})
		if priorIsSchema && candidateIsSchema {
			c.compareNodes(candidateDepSchema, priorDepSchema, joinPath(path, "dependencies/"+propName), result)
		} else if !reflect.DeepEqual(priorDep, candidateDep) {
			result.AddMessage("dependency changed for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}
}

// ==========================================================================
// DEPENDENT REQUIRED (Draft-2020)
// ==========================================================================

// checkDependentRequired checks "dependentRequired" keyword changes (Draft-2020).
func (c *Checker) checkDependentRequired(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorDeps, hasPrior := prior["dependentRequired"]
	candidateDeps, hasCandidate := candidate["dependentRequired"]

	if !hasPrior && !hasCandidate {
		return
	}

	if !hasPrior && hasCandidate {
		result.AddMessage("dependentRequired added at '%s'", pathOrRoot(path))
		return
	}

	if hasPrior && !hasCandidate {
		return
	}

	priorDepsMap, priorOk := priorDeps.(map[string]interface{})
	candidateDepsMap, candOk := candidateDeps.(map[string]interface{})
	if !priorOk || !candOk {
		return
	}

	// Check for added dependency keys
	for propName := range candidateDepsMap {
		if _, exists := priorDepsMap[propName]; !exists {
			result.AddMessage("dependentRequired added for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}

	// Check for removed dependency keys
	for propName := range priorDepsMap {
		if _, exists := candidateDepsMap[propName]; !exists {
			result.AddMessage("dependentRequired removed for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}

	// Check for changed dependencies
	for propName, priorDep := range priorDepsMap {
		candidateDep, exists := candidateDepsMap[propName]
		if !exists {
			continue // Already handled above
		}
		if !reflect.DeepEqual(priorDep, candidateDep) {
			result.AddMessage("dependentRequired changed for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}
}

// ==========================================================================
// DEPENDENT SCHEMAS (Draft-2020)
// ==========================================================================

// checkDependentSchemas checks "dependentSchemas" keyword changes (Draft-2020).
func (c *Checker) checkDependentSchemas(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorDeps, hasPrior := prior["dependentSchemas"]
	candidateDeps, hasCandidate := candidate["dependentSchemas"]

	if !hasPrior && !hasCandidate {
		return
	}

	if !hasPrior && hasCandidate {
		result.AddMessage("dependentSchemas added at '%s'", pathOrRoot(path))
		return
	}

	if hasPrior && !hasCandidate {
		return
	}

	priorDepsMap, priorOk := priorDeps.(map[string]interface{})
	candidateDepsMap, candOk := candidateDeps.(map[string]interface{})
	if !priorOk || !candOk {
		return
	}

	// Check for added dependency keys
	for propName := range candidateDepsMap {
		if _, exists := priorDepsMap[propName]; !exists {
			result.AddMessage("dependentSchema added for property '%s' at '%s'", propName, pathOrRoot(path))
		}
	}

	// Check for removed dependency keys
	for propName := range priorDepsMap {
		if _, exists := candidateDepsMap[propName]; !exists {
			// Schema dependency removed — this is compatible (relaxing)
			continue
		}
	}

	// Check changed dependency schemas
	for propName, priorDep := range priorDepsMap {
		candidateDep, exists := candidateDepsMap[propName]
		if !exists {
			continue
		}
		priorDepSchema, priorIsSchema := priorDep.(map[string]interface{})
		candidateDepSchema, candidateIsSchema := candidateDep.(map[string]interface{})
		if priorIsSchema && candidateIsSchema {
			c.compareNodes(candidateDepSchema, priorDepSchema, joinPath(path, "dependencies/"+propName), result)
		}
	}
}

// ==========================================================================
// UNIQUE ITEMS
// ==========================================================================

// checkUniqueItems checks uniqueItems constraint changes.
func (c *Checker) checkUniqueItems(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorVal, hasPrior := prior["uniqueItems"]
	candidateVal, hasCandidate := candidate["uniqueItems"]

	if !hasCandidate {
		return
	}
	if hasCandidate && candidateVal == true && (!hasPrior || priorVal != true) {
		result.AddMessage("uniqueItems constraint added at '%s'", pathOrRoot(path))
	}
}

// ==========================================================================
// ADDITIONAL ITEMS
// ==========================================================================

// checkAdditionalItems checks additionalItems constraint changes.
func (c *Checker) checkAdditionalItems(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	candidateAI, hasCandidateAI := candidate["additionalItems"]
	priorAI, hasPriorAI := prior["additionalItems"]

	if (!hasPriorAI || priorAI == true) && hasCandidateAI && candidateAI == false {
		result.AddMessage("additionalItems changed from allowed to forbidden at '%s'", pathOrRoot(path))
	}

	if candidateAISchema, candOk := candidateAI.(map[string]interface{}); candOk {
		if priorAISchema, priorOk := priorAI.(map[string]interface{}); priorOk {
			c.compareNodes(candidateAISchema, priorAISchema, joinPath(path, "additionalItems"), result)
		}
	}
}

// ==========================================================================
// ITEMS AS BOOLEAN (Draft-2020)
// ==========================================================================

// checkItemsBoolean checks items: true → items: false changes.
// In Draft-2020, items as boolean controls whether additional items beyond prefixItems are allowed.
func (c *Checker) checkItemsBoolean(candidate, prior map[string]interface{}, path string, result *compatibility.Result) {
	priorItems, hasPrior := prior["items"]
	candidateItems, hasCandidate := candidate["items"]

	// Only check boolean items values
	priorBool, priorIsBool := priorItems.(bool)
	candidateBool, candidateIsBool := candidateItems.(bool)

	if hasPrior && hasCandidate && priorIsBool && candidateIsBool {
		if priorBool && !candidateBool {
			// items: true → items: false = closing the model = incompatible
			result.AddMessage("items changed from allowed to forbidden at '%s'", pathOrRoot(path))
		}
	} else if hasPrior && hasCandidate && priorIsBool && priorBool && !candidateIsBool {
		// items: true → items: {schema} = narrowing = could be incompatible
		// but we handle this in checkArrayCompatibility via getItems
	} else if hasPrior && hasCandidate && !priorIsBool && candidateIsBool && !candidateBool {
		// items: {schema} → items: false = closing the model
		result.AddMessage("items changed from schema to forbidden at '%s'", pathOrRoot(path))
	}
}

// ==========================================================================
// CONSTRAINT CHECKING
// ==========================================================================

// checkConstraintChange checks numeric constraint changes.
func (c *Checker) checkConstraintChange(candidate, prior map[string]interface{}, constraint, path string, result *compatibility.Result, isMinConstraint bool) {
	candidateVal, hasCandidate := candidate[constraint]
	priorVal, hasPrior := prior[constraint]

	if !hasCandidate && !hasPrior {
		return
	}

	candidateNum := toFloat64(candidateVal)
	priorNum := toFloat64(priorVal)

	if isMinConstraint {
		if hasCandidate && (!hasPrior || candidateNum > priorNum) {
			result.AddMessage("'%s' constraint tightened at '%s' (was %v, now %v)", constraint, pathOrRoot(path), priorVal, candidateVal)
		}
	} else {
		if hasCandidate && (!hasPrior || candidateNum < priorNum) {
			result.AddMessage("'%s' constraint tightened at '%s' (was %v, now %v)", constraint, pathOrRoot(path), priorVal, candidateVal)
		}
	}
}

// ==========================================================================
// TYPE COMPATIBILITY
// ==========================================================================

// areTypesCompatible checks if two types are compatible.
func (c *Checker) areTypesCompatible(candidateType, priorType interface{}) bool {
	if priorType == nil {
		return true
	}
	if candidateType == nil {
		return true
	}

	candidateTypes := normalizeType(candidateType)
	priorTypes := normalizeType(priorType)

	for _, ot := range priorTypes {
		found := false
		for _, nt := range candidateTypes {
			if nt == ot || isTypePromotion(ot, nt) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// isTypePromotion checks if priorType can be promoted to candidateType.
func isTypePromotion(priorType, candidateType string) bool {
	return priorType == "integer" && candidateType == "number"
}

// normalizeType converts a type to a slice of strings.
func normalizeType(t interface{}) []string {
	if t == nil {
		return nil
	}
	if s, ok := t.(string); ok {
		return []string{s}
	}
	if arr, ok := t.([]interface{}); ok {
		result := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		sort.Strings(result)
		return result
	}
	return nil
}

// ==========================================================================
// HELPER FUNCTIONS
// ==========================================================================

func getType(schema map[string]interface{}) interface{} {
	return schema["type"]
}

func typeString(t interface{}) string {
	if s, ok := t.(string); ok {
		return s
	}
	return ""
}

func getTypeString(schema map[string]interface{}) string {
	return typeString(getType(schema))
}

func getProperties(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return make(map[string]interface{})
}

func getRequiredSet(schema map[string]interface{}) map[string]bool {
	result := make(map[string]bool)
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				result[s] = true
			}
		}
	}
	return result
}

func getItems(schema map[string]interface{}) map[string]interface{} {
	if items, ok := schema["items"].(map[string]interface{}); ok {
		return items
	}
	return nil
}

func getEnum(schema map[string]interface{}) []interface{} {
	if enum, ok := schema["enum"].([]interface{}); ok {
		return enum
	}
	return nil
}

// hasOpenContentModel determines if a JSON Schema has an open content model.
func hasOpenContentModel(schema map[string]interface{}) bool {
	ap, hasAP := schema["additionalProperties"]
	if !hasAP {
		return true
	}
	if boolVal, ok := ap.(bool); ok {
		return boolVal
	}
	// additionalProperties is a schema object — partially open (not fully open)
	return false
}

// hasCoveringPatternProperties checks if a schema has patternProperties that
// could cover a removed named property. If the new schema has patternProperties,
// the removed property may still be validated by a pattern match.
func hasCoveringPatternProperties(schema map[string]interface{}) bool {
	pp, has := schema["patternProperties"]
	if !has {
		return false
	}
	ppMap, ok := pp.(map[string]interface{})
	return ok && len(ppMap) > 0
}

// getSchemaArrayValue extracts an array of schema objects from a keyword.
func getSchemaArrayValue(schema map[string]interface{}, key string) []map[string]interface{} {
	arr, ok := schema[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result
}

// deduplicateSchemas removes duplicate schemas from a slice.
func deduplicateSchemas(schemas []map[string]interface{}) []map[string]interface{} {
	if len(schemas) == 0 {
		return nil
	}
	result := make([]map[string]interface{}, 0, len(schemas))
	for _, s := range schemas {
		isDup := false
		for _, existing := range result {
			if reflect.DeepEqual(s, existing) {
				isDup = true
				break
			}
		}
		if !isDup {
			result = append(result, s)
		}
	}
	return result
}

// schemaExistsIn checks if a schema exists in a slice (by deep equality).
func schemaExistsIn(schema map[string]interface{}, schemas []map[string]interface{}) bool {
	for _, s := range schemas {
		if reflect.DeepEqual(schema, s) {
			return true
		}
	}
	return false
}

// collectSumTypeOptionsExcludeAllOf extracts type options from oneOf, anyOf, or plain type (not allOf).
func (c *Checker) collectSumTypeOptionsExcludeAllOf(schema map[string]interface{}) []map[string]interface{} {
	if opts := getSchemaArrayValue(schema, "oneOf"); len(opts) > 0 {
		return opts
	}
	if opts := getSchemaArrayValue(schema, "anyOf"); len(opts) > 0 {
		return opts
	}
	t := getType(schema)
	if t != nil {
		types := normalizeType(t)
		opts := make([]map[string]interface{}, len(types))
		for i, typ := range types {
			opts[i] = map[string]interface{}{"type": typ}
		}
		return opts
	}
	return nil
}

// hasMatchingElement checks if candidateElem has a structurally similar match in priorSchemas.
func (c *Checker) hasMatchingElement(candidateElem map[string]interface{}, priorSchemas []map[string]interface{}) bool {
	for _, priorElem := range priorSchemas {
		if len(candidateElem) > 0 && len(priorElem) > 0 {
			sharedKeys := 0
			for k := range candidateElem {
				if _, ok := priorElem[k]; ok {
					sharedKeys++
				}
			}
			if sharedKeys > 0 && sharedKeys == len(candidateElem) {
				return true
			}
		}
	}
	return false
}

// schemaSubsumedBy checks if candidateConstraint is already satisfied by prior.
func schemaSubsumedBy(candidateConstraint, prior map[string]interface{}) bool {
	candidateType := getTypeString(candidateConstraint)
	priorType := typeString(getType(prior))
	if candidateType != "" && priorType != "" {
		return candidateType == priorType || isTypePromotion(priorType, candidateType)
	}
	return reflect.DeepEqual(candidateConstraint, prior)
}

func joinPath(base, prop string) string {
	if base == "" {
		return prop
	}
	return base + "." + prop
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func toFloat64(v interface{}) float64 {
	if v == nil {
		return 0
	}
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}

// Ensure Checker implements compatibility.SchemaChecker
var _ compatibility.SchemaChecker = (*Checker)(nil)
