package param

// DefaultFaceAxes is the standard 62-axis facial morph layout. Axes are
// grouped head-to-chin; ranges are intentionally uneven so that step sizing
// exercises range-proportional scaling.
func DefaultFaceAxes() []Axis {
	return []Axis{
		// skull / head
		{Name: "head_width", Min: -1.0, Max: 1.0},
		{Name: "head_height", Min: -1.0, Max: 1.0},
		{Name: "head_depth", Min: -0.8, Max: 0.8},
		{Name: "skull_taper", Min: -0.6, Max: 0.6},
		{Name: "temple_width", Min: -0.7, Max: 0.7},
		{Name: "crown_height", Min: -0.5, Max: 0.5},

		// face frame
		{Name: "face_width", Min: -1.0, Max: 1.0},
		{Name: "face_length", Min: -1.0, Max: 1.0},
		{Name: "face_depth", Min: -0.6, Max: 0.6},
		{Name: "face_asymmetry", Min: -0.3, Max: 0.3},

		// forehead
		{Name: "forehead_height", Min: -0.8, Max: 0.8},
		{Name: "forehead_slope", Min: -0.6, Max: 0.6},
		{Name: "forehead_width", Min: -0.7, Max: 0.7},
		{Name: "brow_ridge_depth", Min: -0.5, Max: 0.5},

		// brows
		{Name: "brow_height", Min: -0.6, Max: 0.6},
		{Name: "brow_angle", Min: -0.5, Max: 0.5},
		{Name: "brow_spacing", Min: -0.5, Max: 0.5},
		{Name: "brow_thickness", Min: -0.4, Max: 0.4},

		// eyes
		{Name: "eye_size", Min: -0.6, Max: 0.6},
		{Name: "eye_spacing", Min: -0.8, Max: 0.8},
		{Name: "eye_height", Min: -0.6, Max: 0.6},
		{Name: "eye_angle", Min: -0.5, Max: 0.5},
		{Name: "eye_depth", Min: -0.4, Max: 0.4},
		{Name: "eyelid_fold", Min: -0.4, Max: 0.4},
		{Name: "eyelid_droop", Min: -0.3, Max: 0.3},
		{Name: "lower_lid_height", Min: -0.3, Max: 0.3},

		// nose
		{Name: "nose_length", Min: -0.8, Max: 0.8},
		{Name: "nose_width", Min: -0.8, Max: 0.8},
		{Name: "nose_bridge_width", Min: -0.5, Max: 0.5},
		{Name: "nose_bridge_depth", Min: -0.5, Max: 0.5},
		{Name: "nose_tip_angle", Min: -0.6, Max: 0.6},
		{Name: "nose_tip_size", Min: -0.4, Max: 0.4},
		{Name: "nostril_width", Min: -0.4, Max: 0.4},
		{Name: "nostril_flare", Min: -0.3, Max: 0.3},
		{Name: "nose_projection", Min: -0.5, Max: 0.5},

		// cheeks
		{Name: "cheekbone_height", Min: -0.7, Max: 0.7},
		{Name: "cheekbone_width", Min: -0.8, Max: 0.8},
		{Name: "cheekbone_depth", Min: -0.5, Max: 0.5},
		{Name: "cheek_fullness", Min: -0.7, Max: 0.7},
		{Name: "cheek_hollow", Min: -0.5, Max: 0.5},

		// mouth
		{Name: "mouth_width", Min: -0.8, Max: 0.8},
		{Name: "mouth_height", Min: -0.5, Max: 0.5},
		{Name: "mouth_depth", Min: -0.4, Max: 0.4},
		{Name: "lip_upper_thickness", Min: -0.5, Max: 0.5},
		{Name: "lip_lower_thickness", Min: -0.5, Max: 0.5},
		{Name: "lip_curve", Min: -0.4, Max: 0.4},
		{Name: "mouth_corner_height", Min: -0.3, Max: 0.3},
		{Name: "philtrum_depth", Min: -0.3, Max: 0.3},
		{Name: "philtrum_width", Min: -0.3, Max: 0.3},

		// jaw / chin
		{Name: "jaw_width", Min: -1.0, Max: 1.0},
		{Name: "jaw_height", Min: -0.7, Max: 0.7},
		{Name: "jaw_angle", Min: -0.6, Max: 0.6},
		{Name: "jawline_depth", Min: -0.5, Max: 0.5},
		{Name: "chin_width", Min: -0.7, Max: 0.7},
		{Name: "chin_height", Min: -0.6, Max: 0.6},
		{Name: "chin_projection", Min: -0.6, Max: 0.6},
		{Name: "chin_cleft", Min: -0.3, Max: 0.3},

		// ears
		{Name: "ear_size", Min: -0.5, Max: 0.5},
		{Name: "ear_angle", Min: -0.4, Max: 0.4},
		{Name: "ear_height", Min: -0.4, Max: 0.4},
		{Name: "ear_lobe_size", Min: -0.3, Max: 0.3},

		// neck
		{Name: "neck_width", Min: -0.6, Max: 0.6},
	}
}

// DefaultFaceSpace builds the standard facial parameter space.
func DefaultFaceSpace() *Space {
	space, err := NewSpace(DefaultFaceAxes())
	if err != nil {
		panic(err) // the default table is static; a failure here is a bug
	}
	return space
}
