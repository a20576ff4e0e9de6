package condeval

import "testing"

func TestEmptyExpressionIsUnconditional(t *testing.T) {
	ok, err := Eval("", nil, nil, nil)
	if err != nil || !ok {
		t.Fatalf("Eval(empty) = %v, %v, want true, nil", ok, err)
	}
}

func TestAttributeNotExists(t *testing.T) {
	ok, err := Eval("attribute_not_exists(vid)", map[string]interface{}{"id": "x"}, nil, nil)
	if err != nil || !ok {
		t.Fatalf("Eval = %v, %v, want true, nil", ok, err)
	}

	ok, err = Eval("attribute_not_exists(vid)", map[string]interface{}{"vid": int64(1)}, nil, nil)
	if err != nil || ok {
		t.Fatalf("Eval = %v, %v, want false, nil", ok, err)
	}
}

func TestStatusTransitionGuard(t *testing.T) {
	expr := "(resourceType = :rtype) AND (#status = :oldStatus OR (lockEndTs < :lockCutoff AND #status IN (:locked, :pending, :pendingDelete)))"
	names := map[string]string{"#status": "documentStatus"}

	attrs := map[string]interface{}{"resourceType": "Patient", "documentStatus": "PENDING", "lockEndTs": int64(100)}
	values := map[string]interface{}{
		":rtype": "Patient", ":oldStatus": "PENDING", ":lockCutoff": int64(200),
		":locked": "LOCKED", ":pending": "PENDING", ":pendingDelete": "PENDING_DELETE",
	}
	ok, err := Eval(expr, attrs, names, values)
	if err != nil || !ok {
		t.Fatalf("Eval = %v, %v, want true, nil (matches oldStatus)", ok, err)
	}

	attrs2 := map[string]interface{}{"resourceType": "Patient", "documentStatus": "LOCKED", "lockEndTs": int64(50)}
	ok, err = Eval(expr, attrs2, names, values)
	if err != nil || !ok {
		t.Fatalf("Eval = %v, %v, want true, nil (lock expired escape)", ok, err)
	}

	attrs3 := map[string]interface{}{"resourceType": "Patient", "documentStatus": "LOCKED", "lockEndTs": int64(500)}
	ok, err = Eval(expr, attrs3, names, values)
	if err != nil || ok {
		t.Fatalf("Eval = %v, %v, want false, nil (lock still active)", ok, err)
	}
}

func TestInClause(t *testing.T) {
	expr := "#status IN (:a, :b)"
	names := map[string]string{"#status": "jobStatus"}
	values := map[string]interface{}{":a": "in-progress", ":b": "canceling"}

	ok, err := Eval(expr, map[string]interface{}{"jobStatus": "canceling"}, names, values)
	if err != nil || !ok {
		t.Fatalf("Eval = %v, %v, want true, nil", ok, err)
	}

	ok, err = Eval(expr, map[string]interface{}{"jobStatus": "completed"}, names, values)
	if err != nil || ok {
		t.Fatalf("Eval = %v, %v, want false, nil", ok, err)
	}
}
