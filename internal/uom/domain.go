package uom

import "errors"

// UnitOfMeasure describes one unit and its relation to the category base
// unit. Factor is how many base units one unit of this code represents
// (e.g. KG in category weight with base G has factor 1000).
type UnitOfMeasure struct {
	Code     string  `json:"code"`
	Category string  `json:"category"`
	Factor   float64 `json:"factor"`
}

// ErrUnknownUnit indicates a code missing from the catalog.
var ErrUnknownUnit = errors.New("uom: unknown unit code")

// ErrCategoryMismatch indicates conversion across categories (e.g. litres
// to kilograms), which has no defined factor.
var ErrCategoryMismatch = errors.New("uom: units belong to different categories")

// ErrInvalidFactor indicates a non-positive conversion factor.
var ErrInvalidFactor = errors.New("uom: conversion factor must be > 0")
